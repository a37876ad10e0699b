package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/LoveWonYoung/isotplite/cmd/isotpsim/cmd"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // ctrl-c
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Printf("got %v, exiting", s)
		cancel()
		// Failsafe if there is deadlocks
		<-time.After(10 * time.Second)
		log.Fatal("took to long to shutdown, forcefully exiting")
	}()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
