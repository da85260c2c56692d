// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the outbound service-to-service pollers.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
