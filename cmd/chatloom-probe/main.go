package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

// Liveness/readiness probe for container health checks where curl is not
// available. Exits 0 when the target endpoint reports ok, 1 otherwise.
func main() {
	base := flag.String("url", "http://127.0.0.1:8080", "server base URL")
	ready := flag.Bool("ready", false, "probe /readyz instead of /healthz")
	timeout := flag.Duration("timeout", 2*time.Second, "request timeout")
	flag.Parse()

	path := "/healthz"
	if *ready {
		path = "/readyz"
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(*base + path)
	req.Header.SetMethod(fasthttp.MethodGet)

	client := &fasthttp.Client{ReadTimeout: *timeout, WriteTimeout: *timeout}
	if err := client.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe %s failed: %v\n", path, err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe %s: status %d: %s\n", path, resp.StatusCode(), resp.Body())
		os.Exit(1)
	}
	fmt.Printf("%s\n", resp.Body())
}
