package storage

import (
	"github.com/ValentinKolb/dStor/lib/pool"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/rpc/client"
	"github.com/ValentinKolb/dStor/rpc/common"
)

// NewConnectionPool creates a connection pool whose factories dial the page server
// and the safekeeper configured in config.Client
func NewConnectionPool(config common.StorageConfig) (*pool.ConnectionPool, error) {
	return pool.NewConnectionPool(
		config.Pool,
		func() (remote.IPageServerClient, error) {
			return client.NewPageServerClient(config.Client)
		},
		func() (remote.ISafekeeperClient, error) {
			return client.NewSafekeeperClient(config.Client)
		},
	)
}
