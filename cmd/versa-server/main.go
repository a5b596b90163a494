// Command versa-server runs the versa-db HTTP server over an in-memory
// MVCC store.
package main

import (
	"flag"
	"log"

	"github.com/mnohosten/versa-db/pkg/auth"
	"github.com/mnohosten/versa-db/pkg/server"
)

func main() {
	config := server.DefaultConfig()

	host := flag.String("host", config.Host, "host address to listen on")
	port := flag.Int("port", config.Port, "port to listen on")
	compress := flag.String("compress", config.Compression, "value compression: none, snappy, zstd or gzip")
	quiet := flag.Bool("quiet", false, "disable request logging")
	authUser := flag.String("auth-user", "", "admin username; authentication is enabled when set")
	authPassword := flag.String("auth-password", "", "admin password")
	flag.Parse()

	config.Host = *host
	config.Port = *port
	config.Compression = *compress
	config.EnableLogging = !*quiet

	var authManager *auth.Manager
	if *authUser != "" {
		if *authPassword == "" {
			log.Fatal("-auth-user requires -auth-password")
		}
		authManager = auth.NewManager()
		if err := authManager.CreateUser(*authUser, *authPassword, auth.RoleAdmin); err != nil {
			log.Fatalf("failed to create admin user: %v", err)
		}
	}

	srv, err := server.New(config, authManager)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
