package util

import (
	"fmt"
)

// set by the linker: go build -ldflags "-X github.com/infinivision/shardledger/pkg/util.GitCommit=..."
var (
	GitCommit = ""
	BuildTime = ""
	GoVersion = ""
	Version   = "dev"
)

// PrintVersion prints the build info
func PrintVersion() bool {
	fmt.Println("Version   : ", Version)
	fmt.Println("GitCommit : ", GitCommit)
	fmt.Println("BuildTime : ", BuildTime)
	fmt.Println("GoVersion : ", GoVersion)
	return true
}
