// Package clickup is a minimal client for the ClickUp v2 API, covering
// the listing endpoints used to walk a workspace hierarchy and the
// attachment byte streams.
//
// Every call acquires a token from the shared rate limiter before the
// request goes out, making the client the single point of throughput
// control. Calls are single-shot: failures come back as typed errors
// (ErrUnauthorized, ErrForbidden, ErrNotFound, ErrServerError or a
// *StatusError) and the caller decides whether to retry.
//
// # Usage
//
//	client := clickup.NewClient(clickup.Options{
//	    Token:   token,
//	    Limiter: ratelimit.New(85),
//	})
//
//	spaces, err := client.Spaces(ctx, teamID)
//	page, err := client.Tasks(ctx, listID, 0)
//	resp, err := client.Fetch(ctx, attachment.URL)
//	defer resp.Body.Close()
package clickup
