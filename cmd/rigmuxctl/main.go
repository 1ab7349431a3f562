package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

var (
	addr    = flag.String("addr", "localhost:4532", "Control bridge address")
	timeout = flag.Duration("timeout", 5*time.Second, "Command timeout")
)

func main() {
	flag.Parse()

	if len(flag.Args()) == 0 {
		showHelp()
		os.Exit(1)
	}

	command := strings.Join(flag.Args(), " ")

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(*timeout))

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reply = strings.TrimSpace(reply)
	fmt.Println(reply)

	if strings.HasPrefix(reply, "ERR ") {
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("rigmuxctl - rigmuxd Control Bridge Client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -addr <host:port>    Bridge address (default: localhost:4532)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  f                 Get frequency in Hz")
	fmt.Println("  F <Hz>            Set frequency")
	fmt.Println("  m                 Get mode")
	fmt.Println("  M <mode>          Set mode (USB, LSB, CW, AM, FM, DIGITAL)")
	fmt.Println("  t                 Get PTT state")
	fmt.Println("  t 1               Request transmit")
	fmt.Println("  t 0               Release transmit")
	fmt.Println("  p                 Get power in watts")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s f\n", os.Args[0])
	fmt.Printf("  %s F 14074000\n", os.Args[0])
	fmt.Printf("  %s M USB\n", os.Args[0])
}
