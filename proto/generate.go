// Package proto holds the gRPC contract with the LLM service. The Go
// bindings (llm.pb.go, llm_grpc.pb.go) are generated from llm.proto.
package proto

//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative llm.proto
