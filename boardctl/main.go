package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"

	"github.com/openboard/openboard/board"
)

const BoardCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Board control.

Environment (also read from .env):
    BOARD_LISTEN    default listen address for serve
    BOARD_STORE     default snapshot store directory
    BOARD_TOKEN     default identity token for open

Usage:
    boardctl serve [--listen=<listen>] [--store=<store>]
    boardctl open --url=<url> --room=<room> [--token=<token>]
    boardctl snapshot --store=<store> [--room=<room>]

Options:
    -h --help            Show this screen.
    --version            Show version.
    --listen=<listen>    Listen address [default: :8080].
    --store=<store>      Snapshot store directory.
    --url=<url>          Room server websocket url, e.g. ws://localhost:8080/ws.
    --room=<room>        Room id.
    --token=<token>      Identity token issued by the auth service.`

	godotenv.Load()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BoardCtlVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if open_, _ := opts.Bool("open"); open_ {
		open(opts)
	} else if snapshot_, _ := opts.Bool("snapshot"); snapshot_ {
		snapshot(opts)
	}
}

func serve(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listen, _ := opts.String("--listen")
	if envListen := os.Getenv("BOARD_LISTEN"); listen == ":8080" && envListen != "" {
		listen = envListen
	}
	storeDir, _ := opts.String("--store")
	if storeDir == "" {
		storeDir = os.Getenv("BOARD_STORE")
	}

	var store *board.SnapshotStore
	if storeDir != "" {
		var err error
		store, err = board.OpenSnapshotStore(storeDir)
		if err != nil {
			Err.Fatalf("open store error = %s", err)
		}
		defer store.Close()
	}

	server := board.NewRoomServerWithDefaults(ctx, store)
	defer server.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", server)

	httpServer := &http.Server{
		Addr:    listen,
		Handler: mux,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	Out.Printf("room server listening on %s", listen)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		Err.Fatalf("serve error = %s", err)
	}
}

// open connects a headless session to a room and tails activity until
// interrupted. useful for poking at a live room.
func open(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url, _ := opts.String("--url")
	roomId, _ := opts.String("--room")
	token, _ := opts.String("--token")
	if token == "" {
		token = os.Getenv("BOARD_TOKEN")
	}

	session := board.ConnectWithDefaults(ctx, url, roomId, &board.ClientAuth{
		Token: token,
	})
	defer session.Disconnect()

	session.Document().AddCommitCallback(func(commit *board.Commit) {
		switch {
		case commit.Created:
			Out.Printf("layer %s created", commit.LayerId)
		case commit.Deleted:
			Out.Printf("layer %s deleted", commit.LayerId)
		default:
			Out.Printf("layer %s changed %v", commit.LayerId, commit.Fields)
		}
	})
	session.Presence().AddCallback(func(connectionId board.Id, presence *board.Presence) {
		if presence == nil {
			Out.Printf("peer %s left", connectionId)
		} else if presence.Cursor != nil {
			Out.Printf("peer %s cursor (%.0f, %.0f)", connectionId, presence.Cursor.X, presence.Cursor.Y)
		}
	})

	Out.Printf("session %s open on %s", session.ConnectionId(), roomId)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}

func snapshot(opts docopt.Opts) {
	storeDir, _ := opts.String("--store")
	if storeDir == "" {
		storeDir = os.Getenv("BOARD_STORE")
	}
	store, err := board.OpenSnapshotStore(storeDir)
	if err != nil {
		Err.Fatalf("open store error = %s", err)
	}
	defer store.Close()

	roomId, _ := opts.String("--room")
	if roomId == "" {
		roomIds, err := store.RoomIds()
		if err != nil {
			Err.Fatalf("list rooms error = %s", err)
		}
		for _, roomId := range roomIds {
			Out.Printf("%s", roomId)
		}
		return
	}

	snapshot, ok, err := store.Load(roomId)
	if err != nil {
		Err.Fatalf("load error = %s", err)
	}
	if !ok {
		Err.Fatalf("no snapshot for room %s", roomId)
	}
	snapshotBytes, err := json.MarshalIndent(snapshot, "", "    ")
	if err != nil {
		Err.Fatalf("encode error = %s", err)
	}
	Out.Printf("%s", snapshotBytes)
}
