// Package stream decodes the newline-delimited JSON event stream written by a
// supervised agent process.
//
// A Decoder is fed raw output chunks in arrival order. It yields every
// complete, non-blank line as an Event and keeps the trailing partial line
// for the next chunk, so the decoded sequence does not depend on where the
// chunk boundaries fall. A line that is not valid JSON is reported as a
// *LineError and skipped; decoding continues with the next line.
//
//	dec := stream.NewDecoder()
//	for chunk := range chunks {
//	    events, errs := dec.Feed(chunk)
//	    ...
//	}
//	events, errs := dec.Flush() // at EOF
//
// Event carries the envelope fields every record shares plus the raw JSON;
// typed views (Init, Assistant, Partial, User, Result, System) decode the
// payload on demand.
package stream
