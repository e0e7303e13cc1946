package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/matheus3301/wppguard/internal/daemon"
	"github.com/matheus3301/wppguard/internal/lock"
	"github.com/matheus3301/wppguard/internal/session"
	"github.com/matheus3301/wppguard/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, sessionName, *jsonFlag)
	case "recoveries":
		limit := 20
		if len(args) >= 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintln(os.Stderr, "usage: wppguardctl recoveries [limit]")
				os.Exit(1)
			}
			limit = n
		}
		cmdRecoveries(sessionName, limit, *jsonFlag)
	case "sessions":
		cmdSessionsList(*jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppguardctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status              Show connection health")
	fmt.Fprintln(os.Stderr, "  recoveries [limit]  List recent recoveries and totals")
	fmt.Fprintln(os.Stderr, "  sessions            List known sessions")
}

type statusOutput struct {
	Session string `json:"session"`
	Serving string `json:"serving"`
	PID     int    `json:"pid,omitempty"`
}

func cmdStatus(ctx context.Context, sessionName string, jsonOut bool) {
	conn, err := grpc.NewClient(
		"unix://"+session.SocketPath(sessionName),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.GatewayService})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: daemon for session %q not reachable: %v\n", sessionName, err)
		os.Exit(1)
	}

	out := statusOutput{
		Session: sessionName,
		Serving: resp.Status.String(),
		PID:     lock.HolderPID(session.Dir(sessionName)),
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Session: %s\n", out.Session)
	fmt.Printf("Status:  %s\n", out.Serving)
	if out.PID != 0 {
		fmt.Printf("PID:     %d\n", out.PID)
	}
}

type recoveriesOutput struct {
	Total     int              `json:"total"`
	ByOutcome map[string]int   `json:"by_outcome"`
	Recent    []store.Recovery `json:"recent"`
}

func cmdRecoveries(sessionName string, limit int, jsonOut bool) {
	dbPath := session.JournalDBPath(sessionName)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: no journal for session %q\n", sessionName)
		os.Exit(1)
	}
	db, err := store.OpenReadOnly(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	stats, err := db.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	recent, err := db.ListRecoveries(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if jsonOut {
		outputJSON(recoveriesOutput{Total: stats.Total, ByOutcome: stats.ByOutcome, Recent: recent})
		return
	}
	fmt.Printf("Total recoveries: %d\n", stats.Total)
	for outcome, n := range stats.ByOutcome {
		fmt.Printf("  %-10s %d\n", outcome, n)
	}
	if len(recent) == 0 {
		return
	}
	fmt.Println()
	for _, r := range recent {
		fmt.Printf("%s  %-8s %-8s %s  %s\n",
			r.RecoveredAt.Format(time.DateTime), r.Outcome, r.Variant, r.ChatJID, r.SenderJID)
	}
}

type sessionInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"daemon_running"`
}

func cmdSessionsList(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var sessions []sessionInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		_, sockErr := os.Stat(session.SocketPath(e.Name()))
		sessions = append(sessions, sessionInfo{
			Name:    e.Name(),
			Path:    session.Dir(e.Name()),
			Running: sockErr == nil && lock.HolderPID(session.Dir(e.Name())) != 0,
		})
	}

	if jsonOut {
		outputJSON(sessions)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range sessions {
		running := "stopped"
		if s.Running {
			running = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, running)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
