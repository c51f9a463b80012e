// Command cli performs a one-shot lookup using the iterative resolver.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/linkdata/recursor"
)

func main() {
	domain := "console.aws.amazon.com"
	rtype := "A"
	if len(os.Args) > 1 {
		domain = os.Args[1]
	}
	if len(os.Args) > 2 {
		rtype = os.Args[2]
	}
	r := recursor.New()
	defer r.Close()
	r.Logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	}))
	for _, answer := range r.Resolve(domain, rtype) {
		fmt.Println(answer)
	}
}
