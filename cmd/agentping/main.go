package main

// Set by release ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	Execute()
}
