package server

import (
	"context"
	"net"
	"os"

	"golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"
)

// Listen opens a public ngrok endpoint when NGROK_TOKEN is set and a plain
// TCP listener on addr otherwise.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	if token := os.Getenv("NGROK_TOKEN"); token != "" {
		return ngrok.Listen(ctx,
			ngrokconfig.HTTPEndpoint(),
			ngrok.WithAuthtoken(token),
		)
	}
	return net.Listen("tcp", addr)
}

// ServiceURL is the base URL clients use to reach l.
func ServiceURL(l net.Listener) string {
	if tun, ok := l.(ngrok.Tunnel); ok {
		return tun.URL()
	}
	if url := os.Getenv("SERVICE_URL"); url != "" {
		return url
	}
	return "http://" + l.Addr().String()
}
