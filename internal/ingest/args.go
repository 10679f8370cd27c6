package ingest

import "path/filepath"

// TranscodeArgs builds the ffmpeg argument vector for one stream: pull the
// RTMP input, transcode to H.264/AAC tuned for low latency, and emit a
// rolling HLS playlist of 2-second segments. delete_segments keeps disk
// usage bounded; omit_endlist keeps the playlist live.
func TranscodeArgs(inputURL, outputDir string) []string {
	return []string{
		"-y",
		"-i", inputURL,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments+append_list+omit_endlist",
		"-reset_timestamps", "1",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%d.ts"),
		filepath.Join(outputDir, "index.m3u8"),
	}
}
