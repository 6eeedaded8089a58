// Command lumen compiles Lumen source to bytecode and runs it on the
// stack-based VM, or starts an interactive REPL when given no arguments.
package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/lumen-lang/lumen/compiler"
	"github.com/lumen-lang/lumen/context"
	"github.com/lumen-lang/lumen/lexer"
	"github.com/lumen-lang/lumen/parser"
	"github.com/lumen-lang/lumen/repl"
	"github.com/lumen-lang/lumen/vm"
)

const version = "0.1.0"

func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, `Lumen v%s

USAGE:
    %s [OPTIONS]

DESCRIPTION:
    Lumen compiles a subset of ECMAScript 3 into bytecode and runs it on a
    stack-based VM with prototype-based objects. Without any flags, it
    starts an interactive REPL (Read-Eval-Print-Loop).

OPTIONS:
    -f, --file <path>       Execute a Lumen script file
    -e, --eval <code>       Evaluate a snippet and print its result
    -v, --version           Show version information
    -h, --help              Show this help message

EXAMPLES:
    # Start interactive REPL
    %s

    # Execute a script file
    %s -f script.lumen
    %s --file script.lumen

    # Evaluate an expression
    %s -e "print(1 + 2);"

`, version, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	args := os.Args[1:]

	var fileFlag, evalFlag string
	var versionFlag, helpFlag bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f", "--file":
			if i+1 < len(args) {
				i++
				fileFlag = args[i]
			}
		case "-e", "--eval":
			if i+1 < len(args) {
				i++
				evalFlag = args[i]
			}
		case "-v", "--version":
			versionFlag = true
		case "-h", "--help":
			helpFlag = true
		}
	}

	if helpFlag {
		printUsage()
		return
	}

	if versionFlag {
		fmt.Printf("Lumen v%s\n", version)
		return
	}

	if fileFlag != "" {
		executeFile(fileFlag)
		return
	}

	if evalFlag != "" {
		evaluateExpression(evalFlag)
		return
	}

	username := "unknown"
	if usr, err := user.Current(); err == nil {
		username = usr.Username
	}

	fmt.Println("Hello", username+",", "welcome to Lumen!")
	fmt.Println("Feel free to type in Lumen code. (Ctrl+D or Ctrl+C to exit)")

	repl.Start(os.Stdin, os.Stdout)
}

func executeFile(filename string) {
	cleaned := filepath.Clean(filename)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		fmt.Printf("Error getting absolute path: %s\n", err)
		os.Exit(1)
	}

	//nolint:gosec // not reading untrusted user input here
	content, err := os.ReadFile(absolute)
	if err != nil {
		fmt.Printf("Error reading file: %s\n", err)
		os.Exit(1)
	}

	if err := run(string(content), false); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func evaluateExpression(src string) {
	if err := run(src, true); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// run parses, compiles, and executes src against a fresh Context and VM.
// When printResult is set (the -e ambient convenience; running a file
// alone doesn't print a result), it prints the ToString form of the
// value left by the last statement.
func run(src string, printResult bool) error {
	l := lexer.New(src)
	p := parser.New(l)
	script := p.ParseProgram()
	if errs := p.Errors(); len(errs) != 0 {
		return fmt.Errorf("parse error: %s", errs[0])
	}

	ctx := context.New()
	comp := compiler.New(ctx)
	if printResult {
		if err := comp.CompileScriptForResult(script); err != nil {
			return fmt.Errorf("compile error: %w", err)
		}
	} else if err := comp.CompileScript(script); err != nil {
		return fmt.Errorf("compile error: %w", err)
	}

	machine := vm.New(ctx, os.Stdout)
	result, err := machine.Run(comp.Code())
	if err != nil {
		return fmt.Errorf("runtime error: %w", err)
	}

	if printResult {
		s, err := machine.ToString(result)
		if err != nil {
			return fmt.Errorf("runtime error: %w", err)
		}
		fmt.Println(s)
	}

	return nil
}
