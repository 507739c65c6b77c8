// Package track describes chunked tracks: how many chunks a track has,
// where each chunk starts on the track timeline and how wide the overlap
// between consecutive chunks is.
package track
