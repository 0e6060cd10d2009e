package main

import (
	"github.com/khiemvuong/e-commerce-saas-sub002/server"
)

func main() {
	s := server.NewServer()
	addr := s.Config.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.Start(addr)
}
