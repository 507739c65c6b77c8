// ABOUTME: High-level chunkplay library API
// ABOUTME: Provides the Player that drives chunked and whole-track playback
// Package chunkplay plays remote, segmented audio tracks.
//
// The Player is the main entry point. It loads a track from a Source,
// drives either progressive chunk delivery or whole-track delivery, and
// switches between the two without losing the playback position.
//
// For lower-level control, see the fetch, scheduler, latency and transport
// packages.
//
// Example:
//
//	source, err := transport.NewHTTP("http://localhost:8080/api", nil)
//	device := output.NewOto()
//	player, err := chunkplay.NewPlayer(chunkplay.Config{
//	    Mode:   chunkplay.ModeChunked,
//	    Volume: 80,
//	}, source, device)
//	unsubscribe := player.On(chunkplay.EventTimeUpdate, func(e chunkplay.Event) {
//	    fmt.Printf("%.1f / %.1f\n", e.CurrentTime, e.Duration)
//	})
//	err = player.LoadTrack(ctx, "track-id")
//	err = player.Play()
//	err = player.SetMode(ctx, chunkplay.ModeEnhanced, "warm")
package chunkplay
