package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/browsertap/browsertap/internal/api"
	"github.com/browsertap/browsertap/internal/session"
)

// Commands is the operator surface behind the keyboard loop. It extends the
// HTTP service with the toggle and quit verbs that only make sense
// interactively.
type Commands interface {
	api.Service
	TogglePause() string
	Shutdown()
}

// Loop reads operator commands line by line and dispatches them against the
// session. It returns when the input closes, the context is canceled, or the
// operator quits.
func Loop(ctx context.Context, in io.Reader, out io.Writer, cmds Commands) {
	fmt.Fprintln(out, "commands: "+session.CommandSummary)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := dispatch(ctx, out, cmds, line); quit {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("keyboard input closed", "error", err)
	}
}

// dispatch runs one command line. Returns true when the loop should exit.
func dispatch(ctx context.Context, out io.Writer, cmds Commands, line string) bool {
	fields := strings.Fields(line)
	verb := fields[0]

	switch verb {
	case "dump":
		res, err := cmds.Dump(ctx)
		if err != nil {
			fmt.Fprintf(out, "dump failed: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "dumped to %s (%d console, %d network, %d exchanges)\n",
			res.Dir, res.ConsoleEntries, res.NetworkLines, res.Exchanges)

	case "status":
		st := cmds.Status()
		pageDesc := "none"
		if st.Page != nil {
			pageDesc = fmt.Sprintf("[%d] %s", st.Page.Index, st.Page.URL)
		}
		fmt.Fprintf(out, "state=%s page=%s console=%d network=%d exchanges=%d mode=%s uptime=%ds\n",
			st.State, pageDesc, st.ConsoleEntries, st.NetworkLines, st.Exchanges, st.OutputMode, st.UptimeSec)

	case "clear":
		if err := cmds.Clear(); err != nil {
			fmt.Fprintf(out, "clear failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "buffers cleared")

	case "pause":
		fmt.Fprintf(out, "capture %s\n", cmds.TogglePause())

	case "stop":
		cmds.SetPaused(true)
		fmt.Fprintln(out, "capture paused")

	case "start":
		cmds.SetPaused(false)
		fmt.Fprintln(out, "capture resumed")

	case "pages", "tabs":
		pages, err := cmds.ListPages(ctx)
		if err != nil {
			fmt.Fprintf(out, "list pages failed: %v\n", err)
			return false
		}
		for _, p := range pages {
			title := p.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(out, "  %d: %s  %s\n", p.Index, title, p.URL)
		}

	case "switch":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: switch N")
			return false
		}
		index, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintf(out, "bad index %q\n", fields[1])
			return false
		}
		info, err := cmds.SwitchPage(ctx, index)
		if err != nil {
			fmt.Fprintf(out, "switch failed: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "now monitoring [%d] %s\n", info.Index, info.URL)

	case "cmd":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: cmd <method> [args...]")
			return false
		}
		args := make([]any, 0, len(fields)-2)
		for _, a := range fields[2:] {
			args = append(args, parseArg(a))
		}
		result, err := cmds.Invoke(ctx, fields[1], args)
		if err != nil {
			fmt.Fprintf(out, "command failed: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "%v\n", result)

	case "help":
		fmt.Fprintln(out, "dump              write all artifacts to the output directory")
		fmt.Fprintln(out, "status            session state and buffer counts")
		fmt.Fprintln(out, "clear             empty buffers, reset sequence ids")
		fmt.Fprintln(out, "pause             toggle capture on/off")
		fmt.Fprintln(out, "stop / start      pause / resume capture explicitly")
		fmt.Fprintln(out, "pages             list candidate pages")
		fmt.Fprintln(out, "switch N          monitor the page at index N")
		fmt.Fprintln(out, "cmd <method> ...  run an allow-listed page command")
		fmt.Fprintln(out, "quit              shut down")

	case "quit", "exit":
		cmds.Shutdown()
		return true

	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", verb)
	}
	return false
}

// parseArg keeps numeric command arguments numeric so viewport sizes and
// timeouts arrive as numbers, matching the HTTP body semantics.
func parseArg(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}
