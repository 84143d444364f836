// Package subtitle turns subtitle packets and downloaded subtitle files
// into timed cues and keeps a sliding window of them around the playhead.
//
// Cues come either from a subtitle track of the open container
// (ContainerFetcher) or from a remote file downloaded once
// (RemoteFetcher). WindowCache asks its Fetcher for the range around the
// playhead, merges the result into what it already holds and answers
// Active queries for the renderer. ASS tracks are also rebuilt into a full
// script so a styling renderer can take over.
package subtitle
