package downloader

import (
	"os"
	"strconv"

	"github.com/google/uuid"
)

// GenerateInstanceID identifies this process in download history rows so that
// outcomes from several hosts sharing one database can be told apart.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + uuid.NewString()[:8]
}
