// Command verify recomputes a revealed crash round so players can audit it.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"crashgame/internal/game"

	"github.com/pterm/pterm"
)

func main() {
	var (
		seed       = flag.String("seed", "", "revealed server seed (required)")
		hash       = flag.String("hash", "", "published seed hash to check")
		crashPoint = flag.Float64("crash-point", 0, "published crash point to check")
		edge       = flag.Float64("edge", game.HOUSE_EDGE, "house edge")
		maxMult    = flag.Float64("max", game.MAX_MULTIPLIER, "maximum multiplier")
	)
	flag.Parse()

	if *seed == "" {
		pterm.Error.Println("-seed is required")
		flag.Usage()
		os.Exit(2)
	}

	formula := game.CrashFormula{HouseEdge: *edge, MaxMultiplier: *maxMult}
	gotHash := game.HashSeed(*seed)
	gotCrash := formula.CrashPoint(*seed)

	rows := pterm.TableData{
		{"Field", "Computed", "Published", "Match"},
		{"formula", game.FORMULA_VERSION, "", ""},
		{"seed", *seed, "", ""},
	}

	valid := true
	hashRow := []string{"hash", gotHash, *hash, "-"}
	if *hash != "" {
		ok := *hash == gotHash
		hashRow[3] = mark(ok)
		valid = valid && ok
	}
	crashRow := []string{"crash point", fmt.Sprintf("%.2fx", gotCrash), "", "-"}
	if *crashPoint > 0 {
		ok := math.Abs(*crashPoint-gotCrash) < 0.005
		crashRow[2] = fmt.Sprintf("%.2fx", *crashPoint)
		crashRow[3] = mark(ok)
		valid = valid && ok
	}
	rows = append(rows, hashRow, crashRow)

	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if !valid {
		pterm.Error.Println("round does not verify")
		os.Exit(1)
	}
	pterm.Success.Println("round verifies")
}

func mark(ok bool) string {
	if ok {
		return pterm.LightGreen("yes")
	}
	return pterm.LightRed("no")
}
