package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"sort"

	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/protocol"
)

func main() {
	socket := flag.String("socket", config.DefaultSocket, "status socket path")
	flag.Parse()

	conn, err := net.Dial("unix", *socket)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if err := protocol.WriteStatusReq(conn); err != nil {
		log.Fatal(err)
	}

	res, err := protocol.ReadRes(conn)
	if err != nil {
		log.Fatal(err)
	}
	if res.Status != protocol.StatusSuccess {
		log.Fatalf("daemon error: %s", res.Error)
	}

	keys := make([]string, 0, len(res.Extras))
	for k := range res.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-15s %s\n", k, res.Extras[k])
	}
}
