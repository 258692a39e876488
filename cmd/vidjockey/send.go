package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"
	"tractor.dev/toolkit-go/engine/cli"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func sendCmd() *cli.Command {
	cmd := &cli.Command{
		Usage: "send <server-url> <command...>",
		Short: "run a slash command on a running jockey",
		Args:  cli.MinArgs(2),
		Run: func(ctx *cli.Context, args []string) {
			u, err := url.Parse(args[0])
			if err != nil {
				log.Fatal("parse url:", err)
			}
			originURL := "http://" + u.Host
			switch u.Scheme {
			case "http":
				u.Scheme = "ws"
			case "https":
				u.Scheme = "wss"
			}
			u.Path = "/control"

			line := strings.Join(args[1:], " ")
			if !strings.HasPrefix(line, "/") {
				line = "/" + line
			}

			conn, err := websocket.Dial(u.String(), "", originURL)
			if err != nil {
				log.Fatal("dial:", err)
			}
			defer conn.Close()
			if err := websocket.Message.Send(conn, line); err != nil {
				log.Fatal("send:", err)
			}

			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			for {
				var f frame
				if err := websocket.JSON.Receive(conn, &f); err != nil {
					log.Fatal("receive:", err)
				}
				if f.Type != "result" {
					continue
				}
				var res struct {
					Error string `json:"error"`
				}
				json.Unmarshal(f.Data, &res)
				if res.Error != "" {
					log.Fatal(res.Error)
				}
				fmt.Println("ok:", line)
				return
			}
		},
	}
	return cmd
}
