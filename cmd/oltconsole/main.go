package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/aussiebroadwan/oltmanager/internal/console/app"
)

func main() {
	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		if errors.Is(err, app.ErrNoSession) {
			log.Printf("%v: set OLT_USERNAME to sign in", err)
			os.Exit(2)
		}
		log.Fatalf("application error: %v", err)
	}
}
