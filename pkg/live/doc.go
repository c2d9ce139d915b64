// Package live describes the bidirectional speech session the stockroom
// engine talks to.
//
// A Session carries microphone audio out and delivers the assistant's audio,
// tool calls and turn signals back as a single ordered event stream. The
// remote side owns voice activity detection, recognition, reasoning and
// synthesis; this package only fixes the contract.
//
// # Implementations
//
// Two transports are bundled:
//
//   - genailive: the google.golang.org/genai SDK (client.Live.Connect)
//   - wslive: the raw BidiGenerateContent WebSocket protocol
//
// The livetest package provides scriptable fakes for tests.
//
// # Usage
//
//	conn, err := genailive.New(ctx, genailive.Config{APIKey: key})
//	if err != nil {
//	    return err
//	}
//	sess, err := conn.Connect(ctx, live.SessionConfig{
//	    Model:        "gemini-2.0-flash-live-001",
//	    Voice:        "Puck",
//	    Instructions: prompt,
//	    Tools:        tools.InventorySpecs(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	for ev := range sess.Events() {
//	    switch {
//	    case ev.Audio != nil:
//	        // decode and schedule
//	    case len(ev.ToolCalls) > 0:
//	        // dispatch, then sess.SendToolResponse
//	    case ev.Closed:
//	        return nil
//	    }
//	}
package live
