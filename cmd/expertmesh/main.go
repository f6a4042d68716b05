// expertmesh runs the multi-agent expert network: a manager endpoint
// that routes questions, worker endpoints that answer them, and a
// terminal chat client.
//
// Usage:
//
//	expertmesh worker --role tech            # Tech expert on :8001
//	expertmesh worker --role hr              # HR expert on :8000
//	expertmesh worker --role design          # Design expert on :8003
//	expertmesh manager                       # Manager on :8002
//	expertmesh chat                          # Talk to the manager
package main

func main() {
	Execute()
}
