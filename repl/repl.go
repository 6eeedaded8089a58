// Package repl implements the Read-Eval-Print Loop for the Lumen scripting
// language.
//
// The REPL provides an interactive interface for users to enter Lumen code,
// have it compiled and run, and see the results immediately. It uses the
// Charm libraries (Bubbletea, Bubbles, and Lipgloss) to create a modern,
// terminal interface with syntax highlighting and command history.
//
// Key features:
//   - Interactive command input and execution
//   - Command history tracking
//   - Styled output with different colors for results and errors
//   - A persistent Context and VM across commands, so a var declared in
//     one line is visible to the next
//
// The main entry point is the Start function, which initializes and runs
// the REPL against the given input and output streams.
package repl

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lumen-lang/lumen/compiler"
	"github.com/lumen-lang/lumen/context"
	"github.com/lumen-lang/lumen/lexer"
	"github.com/lumen-lang/lumen/parser"
	"github.com/lumen-lang/lumen/token"
	"github.com/lumen-lang/lumen/vm"
)

const (
	// Prompt is the default prompt for the REPL
	Prompt = ">> "

	// ContPrompt is the continuation prompt used in multiline input mode within the REPL.
	ContPrompt = ".. "
)

// Start initializes and runs the REPL against in/out. It creates a new
// bubbletea program with an initial model and runs it. If an error occurs
// while running the program, it is printed to out.
func Start(in io.Reader, out io.Writer) {
	p := tea.NewProgram(initialModel(), tea.WithInput(in), tea.WithOutput(out))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(out, "Error running program:", err)
	}
}

// Styling
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))

	parseErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF5F87")).
				Bold(true)

	runtimeErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF8700")).
				Bold(true)

	historyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))

	// Syntax highlighting styles
	keywordStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF79C6")).
			Bold(true)

	identifierStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#F8F8F2"))

	literalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	operatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	delimiterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#BD93F9"))

	stringStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))
)

// ErrorType represents the type of error that occurred
type ErrorType int

const (
	// NoError indicates that no error occurred.
	NoError ErrorType = iota

	// ParseError indicates an error during parsing.
	ParseError

	// RuntimeError indicates an error during compilation or execution.
	RuntimeError
)

// evalResultMsg carries the outcome of an asynchronously evaluated line
// back into the bubbletea update loop.
type evalResultMsg struct {
	output    string
	isError   bool
	errorType ErrorType
	elapsed   time.Duration
}

// historyEntry represents a single entry in the REPL history
type historyEntry struct {
	input          string
	output         string
	isError        bool
	errorType      ErrorType
	evaluationTime time.Duration
}

// model is the bubbletea state for the REPL. ctx and comp persist across
// every evaluated line: ctx holds the prototype graph and machine holds the
// global-name bindings built up so far, so a var declared on one line is
// visible to the next, and comp keeps accumulating the same constant and
// name pools rather than starting fresh each time.
type model struct {
	textInput textinput.Model
	history   []historyEntry

	ctx     *context.Context
	comp    *compiler.Compiler
	machine *vm.VM

	evaluating      bool
	currentInput    string
	multilineBuffer string
	isMultiline     bool
	spinner         spinner.Model
}

func initialModel() model {
	ti := textinput.New()
	ti.Placeholder = "Enter Lumen code"
	ti.Focus()
	ti.Width = 80
	ti.Prompt = promptStyle.Render(Prompt)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	ctx := context.New()
	return model{
		textInput: ti,
		history:   []historyEntry{},
		ctx:       ctx,
		comp:      compiler.New(ctx),
		machine:   vm.New(ctx, io.Discard),
		spinner:   s,
	}
}

// Init is the first function that will be called
func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// isBalanced checks if brackets, braces, and parentheses are balanced in the input
func isBalanced(input string) bool {
	var stack []rune

	for _, char := range input {
		switch char {
		case '(', '{', '[':
			stack = append(stack, char)
		case ')':
			if len(stack) == 0 || stack[len(stack)-1] != '(' {
				return false
			}
			stack = stack[:len(stack)-1]
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return false
			}
			stack = stack[:len(stack)-1]
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}

	return len(stack) == 0
}

// evalCmd lexes, parses, compiles, and runs one line against the REPL's
// persistent compiler and VM, and reports the result or the first error
// encountered at whichever stage produced it.
func evalCmd(input string, comp *compiler.Compiler, machine *vm.VM) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()

		l := lexer.New(input)
		p := parser.New(l)
		script := p.ParseProgram()

		if errs := p.Errors(); len(errs) != 0 {
			return evalResultMsg{
				output:    formatParseErrors(errs),
				isError:   true,
				errorType: ParseError,
				elapsed:   time.Since(start),
			}
		}

		co, err := comp.CompileLine(script)
		if err != nil {
			return evalResultMsg{
				output:    formatRuntimeError(err.Error()),
				isError:   true,
				errorType: RuntimeError,
				elapsed:   time.Since(start),
			}
		}

		// print writes land in this buffer, so the line's output shows up
		// in its history entry instead of fighting bubbletea for stdout.
		var printed bytes.Buffer
		machine.SetStdout(&printed)
		result, err := machine.Run(co)
		if err != nil {
			return evalResultMsg{
				output:    printed.String() + formatRuntimeError(err.Error()),
				isError:   true,
				errorType: RuntimeError,
				elapsed:   time.Since(start),
			}
		}

		s, err := machine.ToString(result)
		if err != nil {
			return evalResultMsg{
				output:    printed.String() + formatRuntimeError(err.Error()),
				isError:   true,
				errorType: RuntimeError,
				elapsed:   time.Since(start),
			}
		}

		return evalResultMsg{output: printed.String() + s, elapsed: time.Since(start)}
	}
}

// formatError writes one history entry's error output, splitting off a
// "Tips:" section into its own style when present.
func (m model) formatError(style lipgloss.Style, entry *historyEntry, s *strings.Builder) {
	parts := strings.Split(entry.output, "\nTips:")
	if len(parts) > 1 {
		s.WriteString(style.Render(parts[0]))
		s.WriteString("\n")
		s.WriteString(historyStyle.Render("Tips:" + parts[1]))
	} else {
		s.WriteString(style.Render(entry.output))
	}
}

// Update handles all the updates to our model
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.evaluating {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case evalResultMsg:
		m.evaluating = false
		m.history = append(m.history, historyEntry{
			input:          m.currentInput,
			output:         msg.output,
			isError:        msg.isError,
			errorType:      msg.errorType,
			evaluationTime: msg.elapsed,
		})
		m.currentInput = ""
		return m, nil

	case tea.KeyMsg:
		if m.evaluating && msg.Type != tea.KeyCtrlC {
			return m, m.spinner.Tick
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			input := m.textInput.Value()
			if input == "" {
				if m.isMultiline {
					if m.multilineBuffer == "" {
						m.isMultiline = false
						return m, nil
					}

					m.evaluating = true
					m.currentInput = m.multilineBuffer
					m.textInput.SetValue("")
					m.isMultiline = false

					buffer := m.multilineBuffer
					m.multilineBuffer = ""

					return m, evalCmd(buffer, m.comp, m.machine)
				}
				return m, nil
			}

			if m.isMultiline {
				m.multilineBuffer += "\n" + input
				m.textInput.SetValue("")

				if isBalanced(m.multilineBuffer) {
					m.evaluating = true
					m.currentInput = m.multilineBuffer
					m.isMultiline = false

					buffer := m.multilineBuffer
					m.multilineBuffer = ""

					return m, evalCmd(buffer, m.comp, m.machine)
				}

				return m, nil
			}

			if !isBalanced(input) {
				m.isMultiline = true
				m.multilineBuffer = input
				m.textInput.SetValue("")
				return m, nil
			}

			m.evaluating = true
			m.currentInput = input
			m.textInput.SetValue("")

			return m, evalCmd(input, m.comp, m.machine)
		}
	}

	if !m.evaluating {
		m.textInput, cmd = m.textInput.Update(msg)
	}

	if m.evaluating {
		return m, m.spinner.Tick
	}

	return m, cmd
}

// View renders the current UI
func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" Lumen REPL "))
	s.WriteString("\n\n")

	for _, entry := range m.history {
		lines := strings.Split(entry.input, "\n")
		for i, line := range lines {
			if i == 0 {
				s.WriteString(promptStyle.Render(Prompt))
			} else {
				s.WriteString(promptStyle.Render(ContPrompt))
			}
			s.WriteString(m.highlightCode(line))
			s.WriteString("\n")
		}

		if entry.isError {
			switch entry.errorType {
			case ParseError:
				m.formatError(parseErrorStyle, &entry, &s)
			case RuntimeError:
				m.formatError(runtimeErrorStyle, &entry, &s)
			default:
				s.WriteString(errorStyle.Render(entry.output))
			}
		} else {
			s.WriteString(resultStyle.Render(entry.output))
		}

		if entry.evaluationTime > 10*time.Millisecond {
			s.WriteString(historyStyle.Render(fmt.Sprintf(" (%.2fs)", entry.evaluationTime.Seconds())))
		}

		s.WriteString("\n\n")
	}

	if m.evaluating {
		s.WriteString(promptStyle.Render(Prompt))
		s.WriteString(m.highlightCode(m.currentInput))
		s.WriteString("\n")
		s.WriteString(m.spinner.View())
		s.WriteString(" Evaluating...")
		s.WriteString("\n\n")
	}

	if m.isMultiline && !m.evaluating {
		s.WriteString(historyStyle.Render("Current multiline input:\n"))
		s.WriteString(m.highlightCode(m.multilineBuffer))
		s.WriteString("\n")
	}

	if !m.evaluating {
		if m.isMultiline {
			m.textInput.Prompt = promptStyle.Render(ContPrompt)
		} else {
			m.textInput.Prompt = promptStyle.Render(Prompt)
		}
		s.WriteString(m.textInput.View())
		s.WriteString("\n")
	}

	helpText := "\nPress Esc or Ctrl+C/D to exit"
	if m.isMultiline {
		helpText += " | Multiline mode: Enter empty line to evaluate or continue typing"
	} else {
		helpText += " | Multiline input supported for unbalanced brackets"
	}
	s.WriteString(historyStyle.Render(helpText))

	return s.String()
}

// formatParseErrors formats parser errors into a string with improved readability
func formatParseErrors(errors []string) string {
	var s strings.Builder
	s.WriteString("Parser Errors:\n")

	for i, msg := range errors {
		s.WriteString(fmt.Sprintf("  %d. %s\n", i+1, msg))
	}

	s.WriteString("\nTips:\n")
	s.WriteString("  • Check for missing parentheses, braces, or semicolons\n")
	s.WriteString("  • Verify that all statements are terminated with ;\n")
	s.WriteString("  • Ensure identifiers are valid Lumen names\n")

	return s.String()
}

// formatRuntimeError formats a compile- or run-time error into a string
// with improved readability.
func formatRuntimeError(errorMsg string) string {
	var s strings.Builder
	s.WriteString("Runtime Error:\n")
	s.WriteString("  " + errorMsg + "\n")

	s.WriteString("\nTips:\n")

	switch {
	case strings.Contains(errorMsg, "not defined") || strings.Contains(errorMsg, "NameError"):
		s.WriteString("  • Check if the variable is declared with var before use\n")
		s.WriteString("  • Verify the name is spelled correctly\n")
	case strings.Contains(errorMsg, "not callable"):
		s.WriteString("  • Make sure you're calling a function, not another kind of value\n")
	case strings.Contains(errorMsg, "not constructible"):
		s.WriteString("  • new only works on functions and the built-in constructors\n")
	default:
		s.WriteString("  • Review your code logic\n")
		s.WriteString("  • Check for type mismatches or undeclared variables\n")
	}

	return s.String()
}

// highlightCode applies syntax highlighting and formatting to Lumen code.
//
//nolint:gocyclo
func (m model) highlightCode(src string) string {
	l := lexer.New(src)
	var s strings.Builder

	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			break
		}
	}

	isKeyword := func(t token.Token) bool {
		switch t.Type {
		case token.FUNCTION, token.VAR, token.TRUE, token.FALSE, token.IF, token.ELSE,
			token.RETURN, token.NEW, token.THIS, token.NULL:
			return true
		}
		return false
	}
	isOperator := func(t token.Token) bool {
		switch t.Type {
		case token.ASSIGN, token.PLUS, token.MINUS, token.EQ:
			return true
		}
		return false
	}
	isOpenParen := func(t token.Token) bool { return t.Type == token.LPAREN }
	isCloseParen := func(t token.Token) bool { return t.Type == token.RPAREN }
	isOpenBrace := func(t token.Token) bool { return t.Type == token.LBRACE }
	isCloseBrace := func(t token.Token) bool { return t.Type == token.RBRACE }
	isDelimiter := func(t token.Token) bool {
		switch t.Type {
		case token.COMMA, token.SEMICOLON, token.DOT, token.LPAREN, token.RPAREN,
			token.LBRACE, token.RBRACE, token.LBRACKET, token.RBRACKET:
			return true
		}
		return false
	}

	indentLevel := 0
	atLineStart := true
	for i := 0; i < len(tokens)-1; i++ {
		tok := tokens[i]
		if tok.Type == token.EOF {
			continue
		}
		var prev token.Token
		if i > 0 {
			prev = tokens[i-1]
		}
		next := tokens[i+1]

		if atLineStart {
			if tok.Type == token.ELSE && i > 0 && tokens[i-1].Type == token.RBRACE {
				atLineStart = false
			} else {
				for j := 0; j < indentLevel; j++ {
					s.WriteString("  ")
				}
				atLineStart = false
			}
		}

		if isKeyword(tok) {
			s.WriteString(keywordStyle.Render(tok.Literal))
			if !isDelimiter(next) && !isOpenBrace(next) && !isOpenParen(next) {
				s.WriteString(" ")
			}
			continue
		}
		if isKeyword(prev) && (prev.Type == token.IF || prev.Type == token.ELSE ||
			prev.Type == token.FUNCTION || prev.Type == token.NEW) && isOpenParen(tok) {
			s.WriteString(" ")
		}
		if isOpenBrace(tok) && !isOpenParen(prev) && !isOperator(prev) {
			s.WriteString(" ")
		}
		if isOperator(tok) {
			isPrefixOp := tok.Type == token.MINUS &&
				(i == 0 || isOpenParen(prev) || isOperator(prev) || isDelimiter(prev))

			if !isPrefixOp && i > 0 && (!isDelimiter(prev) || isCloseParen(prev)) {
				s.WriteString(" ")
			}

			s.WriteString(operatorStyle.Render(tok.Literal))

			if !isPrefixOp && !isDelimiter(next) && !isCloseParen(next) && !isCloseBrace(next) {
				s.WriteString(" ")
			}
			continue
		}

		switch tok.Type {
		case token.IDENT:
			s.WriteString(identifierStyle.Render(tok.Literal))
		case token.NUMBER:
			s.WriteString(literalStyle.Render(tok.Literal))
		case token.STRING:
			s.WriteString(stringStyle.Render("\"" + tok.Literal + "\""))
		case token.COMMA, token.SEMICOLON, token.DOT, token.LPAREN, token.RPAREN,
			token.LBRACE, token.RBRACE, token.LBRACKET, token.RBRACKET:
			if !(tok.Type == token.SEMICOLON && i > 0 && tokens[i-1].Type == token.RBRACE) {
				s.WriteString(delimiterStyle.Render(tok.Literal))
			}
		default:
			s.WriteString(tok.Literal)
		}

		switch {
		case tok.Type == token.SEMICOLON:
			if next.Type != token.EOF && next.Type != token.ELSE {
				s.WriteString("\n")
				atLineStart = true
			}
		case tok.Type == token.RBRACE:
			switch {
			case next.Type == token.SEMICOLON:
				s.WriteString(delimiterStyle.Render(";"))
			case next.Type != token.EOF && next.Type != token.ELSE:
				s.WriteString("\n")
				atLineStart = true
			case next.Type == token.ELSE:
				s.WriteString(" ")
				atLineStart = false
			}
		}

		if tok.Type == token.LBRACE {
			if next.Type != token.RBRACE && next.Type != token.EOF {
				s.WriteString("\n")
				atLineStart = true
			}
			indentLevel++
		}
		if tok.Type == token.RBRACE && indentLevel > 0 {
			indentLevel--
		}
		if tok.Type == token.RBRACE && next.Type == token.SEMICOLON {
			i++
		}
	}

	return s.String()
}
