package polymarketapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"
)

// CheckOptions are used for connectivity checks.
var CheckOptions = FetchOptions{Timeout: 6 * time.Second, Retries: 1}

type ConnectivityResult struct {
	URL    string `json:"url"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Ms     int64  `json:"ms"`
	Error  string `json:"error,omitempty"`
}

type NetworkEnv struct {
	HTTPSProxy bool   `json:"https_proxy"`
	HTTPProxy  bool   `json:"http_proxy"`
	Go         string `json:"go"`
	Platform   string `json:"platform"`
}

// CheckTargets returns the venue endpoints checked by TestConnectivity.
func (c *PolymarketApiClient) CheckTargets() []string {
	return []string{
		c.gammaBaseURL + "/markets?active=true&limit=1",
		c.dataBaseURL + "/trades?limit=1",
	}
}

// TestConnectivity checks each venue endpoint concurrently. It never fails;
// per-target errors are reported in the results, in target order.
func (c *PolymarketApiClient) TestConnectivity(ctx context.Context) []ConnectivityResult {
	targets := c.CheckTargets()
	results := make([]ConnectivityResult, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			results[i] = c.check(ctx, target)
		}(i, target)
	}
	wg.Wait()

	return results
}

func (c *PolymarketApiClient) check(ctx context.Context, target string) ConnectivityResult {
	start := time.Now()
	_, err := c.fetch(ctx, target, CheckOptions)
	res := ConnectivityResult{
		URL: target,
		OK:  err == nil,
		Ms:  time.Since(start).Milliseconds(),
	}

	var se *StatusError
	switch {
	case err == nil:
		res.Status = 200
	case errors.As(err, &se):
		res.Status = se.Code
		res.Error = err.Error()
	default:
		res.Error = err.Error()
	}
	return res
}

// Env reports proxy settings and the runtime, for network diagnostics.
func Env() NetworkEnv {
	return NetworkEnv{
		HTTPSProxy: os.Getenv("HTTPS_PROXY") != "" || os.Getenv("https_proxy") != "",
		HTTPProxy:  os.Getenv("HTTP_PROXY") != "" || os.Getenv("http_proxy") != "",
		Go:         runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Diagnose classifies a request error into a short hint for operators.
func Diagnose(err error) string {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	var se *StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout: check outbound firewall or proxy settings"
	case errors.As(err, &dnsErr):
		return "dns lookup failed: check resolver configuration"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused: endpoint unreachable"
	case IsStatus(err, http.StatusForbidden), IsStatus(err, http.StatusUnavailableForLegalReasons):
		return "blocked by upstream: region or network may be restricted"
	case errors.As(err, &se):
		return "upstream returned an error status"
	default:
		return "unknown network error"
	}
}
