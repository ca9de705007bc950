package main

import (
	"bufio"
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/gommon/log"

	"wainbox/internal/boot"
	"wainbox/internal/client"
	"wainbox/internal/model"
	"wainbox/internal/syncloop"
)

func main() {
	bootConfig, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	baseURL := flag.String("base-url", bootConfig.Client.BaseURL, "wainbox server URL")
	token := flag.String("token", bootConfig.Client.Token, "operator bearer token")
	interval := flag.Duration("interval", bootConfig.Client.PollInterval, "poll interval")
	timeout := flag.Duration("timeout", 15*time.Second, "per-request timeout")
	focus := flag.String("focus", "", "conversation key to open; stdin lines are sent to it")
	flag.Parse()

	api := client.New(*baseURL, strings.TrimSpace(*token), &http.Client{Timeout: *timeout})
	renderer := newRenderer(os.Stdout)

	loop := syncloop.New(api, api, syncloop.Options{
		Interval: *interval,
		OnChange: renderer.Render,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *focus != "" {
		loop.Focus(model.ConversationKey(*focus))
	}
	loop.Start(rootCtx)
	defer loop.Stop()

	if *focus != "" {
		go readDrafts(rootCtx, loop)
	}

	<-rootCtx.Done()
	log.Infof("sync stopping: %v", rootCtx.Err())
}

// readDrafts sends every stdin line to the focused conversation.
func readDrafts(ctx context.Context, loop *syncloop.Loop) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		loop.SetDraft(scanner.Text())
		if _, err := loop.SubmitDraft(); err != nil {
			log.Warnf("send: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("reading stdin: %+v", err)
	}
}
