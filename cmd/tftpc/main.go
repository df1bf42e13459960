package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/psh873977-beep/tftp-client/client"
	"github.com/psh873977-beep/tftp-client/tftp"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <host> get|put <filename>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	port := flag.Int("p", 69, "server port")
	timeout := flag.Duration("timeout", client.DefaultTimeout, "per-receive timeout")
	retries := flag.Int("retries", client.DefaultRetries, "send attempts per packet")
	verbose := flag.Bool("v", false, "log per-packet traffic")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 3 {
		usage()
		os.Exit(2)
	}
	host, op, filename := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, *port))
	if err != nil {
		log.Fatalf("cannot resolve %s: %v", host, err)
	}
	log.Infof("connecting to %s (%s)", host, addr)

	c := client.New(addr,
		client.WithTimeout(*timeout),
		client.WithRetries(*retries),
		client.WithLogger(log))

	switch op {
	case "get":
		err = get(c, filename, log)
	case "put":
		err = put(c, filename)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func get(c *client.Client, filename string, log *logrus.Logger) error {
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("%s already exists locally", filename)
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filename, err)
	}

	status, err := c.Get(filename, tftp.ModeOctet, f)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		// A partial download is useless to the caller; remove it. The
		// degraded timeout path below deliberately keeps the file.
		os.Remove(filename)
		return err
	}
	if status == client.StatusTimedOut {
		log.Warnf("server went quiet mid-transfer, keeping what arrived in %s", filename)
	}
	return nil
}

func put(c *client.Client, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filename, err)
	}
	defer f.Close()
	return c.Put(filename, tftp.ModeOctet, f)
}
