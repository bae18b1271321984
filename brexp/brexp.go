/*
Brexp is a simple tool which helps working with trees in newick
format. It has two modes: "brlen" will export all the branch lengths
named as the lhtree branch length parameters, "brtree" will export the
tree with the node ID labels.
*/
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/lhtree/tree"
)

var log = logging.MustGetLogger("brexp")

var (
	app        = kingpin.New("brexp", "export tree branches")
	infilename = app.Flag("in", "input filename (stdin by default)").ExistingFile()
	mode       = app.Flag("mode", "program mode").Default("brlen").Enum("brlen", "brtree")
)

// export writes branch lengths or the labeled tree.
func export(w io.Writer, t *tree.Tree, mode string) error {
	switch mode {
	case "brlen":
		for _, node := range t.Nodes() {
			if node.IsRoot() {
				continue
			}
			fmt.Fprintf(w, "br%d=%f\n", node.ID, node.BranchLength)
		}
	case "brtree":
		fmt.Fprintln(w, t.BrString())
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
	return nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))

	infile := os.Stdin
	if *infilename != "" {
		var err error
		infile, err = os.Open(*infilename)
		if err != nil {
			log.Fatal(err)
		}
		defer infile.Close()
	}

	t, err := tree.ParseNewick(infile)
	if err != nil {
		log.Fatal(err)
	}
	if err := export(os.Stdout, t, *mode); err != nil {
		log.Fatal(err)
	}
}
