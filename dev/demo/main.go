package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mqy/gptmessenger/store"
)

// The demo is a line client: it sends stdin lines to the server and prints the replies,
// rendering message lists of GET_DM / GET_GROUP one message per line.
//
//	echo -e 'REGISTER\talice\tpw\nPING' | go run ./dev/demo --addr 127.0.0.1:5555

var (
	addr    = flag.String("addr", "127.0.0.1:5555", "server address, ip:port")
	timeout = flag.Duration("timeout", 10*time.Second, "dial and reply timeout")
	raw     = flag.Bool("raw", false, "print replies as received")
)

func main() {
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	replies := bufio.NewReader(conn)
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), 1<<20)

	for in.Scan() {
		line := in.Text()
		if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
		if line == "QUIT" {
			return
		}

		conn.SetReadDeadline(time.Now().Add(*timeout))
		reply, err := replies.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			os.Exit(1)
		}
		reply = strings.TrimSuffix(reply, "\n")
		if *raw {
			fmt.Println(reply)
			continue
		}
		fmt.Println(render(line, reply))
	}
}

func render(request, reply string) string {
	cmd, _, _ := strings.Cut(request, "\t")
	if !strings.HasPrefix(reply, "OK\t") || (cmd != "GET_DM" && cmd != "GET_GROUP") {
		return strings.ReplaceAll(reply, "\t", " ")
	}

	payload := strings.TrimPrefix(reply, "OK\t")
	msgs, err := store.ParseMessages(payload)
	if err != nil {
		return fmt.Sprintf("OK (unparsed: %v) %s", err, payload)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "OK %d messages", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n  #%d %s %s", m.Id, m.Timestamp, m.From)
		if m.ReplyTo != nil {
			fmt.Fprintf(&b, " (re #%d)", *m.ReplyTo)
		}
		fmt.Fprintf(&b, ": %s", m.Text)
	}
	return b.String()
}
