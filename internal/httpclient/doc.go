// Package httpclient renders the configured request template into HTTP
// requests and provides the shared client used by the invoker.
//
// A [RequestBuilder] joins the base URL with the request path and expands
// {{key}} placeholders in the path, header values and body:
//
//	builder, err := httpclient.NewRequestBuilder(cfg)
//	if err != nil {
//		return err
//	}
//	builder.WithAuth(provider).WithFeeder(records)
//	req, err := builder.Build(ctx)
//
// Bodies come from an inline string or a file. Files up to 1 MiB are held in
// memory so they can carry placeholders; larger files are streamed verbatim.
//
// [NewClient] returns an *http.Client with a transport sized for many
// concurrent connections to a single host.
package httpclient
