package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/ffi-boundary/boundary"
	"github.com/wippyai/ffi-boundary/config"
	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/ledger"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#666666")).
			Padding(0, 1)
)

func newInspectCommand(opts *rootOptions) *cobra.Command {
	var direct bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Call entry points interactively and watch memory and the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessOpts []boundary.Option
			if direct {
				sessOpts = append(sessOpts, boundary.WithDirectCalls())
			}
			m := newInspectModel(opts.cfg, sessOpts...)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			if cerr := m.close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "call entry points in process instead of through wazero")
	return cmd
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

// param is one text field. Most map to a flat parameter; staged calls take
// Go-level arguments instead.
type param struct {
	name    string
	typeStr string
	parse   func(string) (any, error)
}

type funcInfo struct {
	sig    contract.Signature
	params []param
}

type inspectModel struct {
	err      error
	cfg      config.Config
	opts     []boundary.Option
	sess     *boundary.Session
	rec      *ledger.Recorder
	result   callResultMsg
	funcs    []funcInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type sessionMsg struct {
	err  error
	sess *boundary.Session
}

type callResultMsg struct {
	err    error
	value  string
	handle ledger.Handle
	raw    string
	events []string
}

func newInspectModel(cfg config.Config, opts ...boundary.Option) *inspectModel {
	m := &inspectModel{
		cfg:   cfg,
		rec:   &ledger.Recorder{},
		state: stateSelectFunc,
	}
	m.opts = append(opts, boundary.WithObserver(m.rec))
	for _, sig := range contract.Signatures {
		m.funcs = append(m.funcs, funcInfo{sig: sig, params: paramsFor(sig)})
	}
	return m
}

func paramsFor(sig contract.Signature) []param {
	switch sig.Name {
	case contract.FnMakeNamedCollection:
		return []param{
			{name: "name", typeStr: "string", parse: func(s string) (any, error) { return s, nil }},
			{name: "values", typeStr: "s32,s32,...", parse: parseValues},
		}
	case contract.FnFreeNamedCollection, contract.FnBorrow, contract.FnReturnBorrow:
		return []param{{name: "handle", typeStr: "#index.gen", parse: func(s string) (any, error) {
			return ledger.ParseHandle(s)
		}}}
	}
	params := make([]param, len(sig.Params))
	for i, vt := range sig.Params {
		params[i] = param{name: sig.ParamNames[i], typeStr: api.ValueTypeName(vt), parse: flatParser(vt)}
	}
	return params
}

func flatParser(vt api.ValueType) func(string) (any, error) {
	switch vt {
	case api.ValueTypeF32:
		return func(s string) (any, error) {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
			return float32(v), err
		}
	default:
		// Sizes and addresses are u32; everything else is s32.
		return func(s string) (any, error) {
			s = strings.TrimSpace(s)
			if v, err := strconv.ParseInt(s, 0, 32); err == nil {
				return int32(v), nil
			}
			v, err := strconv.ParseUint(s, 0, 32)
			return int32(uint32(v)), err
		}
	}
}

func parseValues(s string) (any, error) {
	var out []int32
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, int32(v))
	}
	return out, nil
}

func (m *inspectModel) Init() tea.Cmd {
	return m.openSession
}

func (m *inspectModel) openSession() tea.Msg {
	sess, err := boundary.Open(context.Background(), m.cfg, m.opts...)
	return sessionMsg{sess: sess, err: err}
}

func (m *inspectModel) close() error {
	if m.sess == nil {
		return nil
	}
	_, err := m.sess.Close(context.Background())
	return err
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if m.sess == nil {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = callResultMsg{}
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = callResultMsg{}
			}
		}

	case sessionMsg:
		m.sess, m.err = msg.sess, msg.err

	case callResultMsg:
		m.result = msg
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *inspectModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		ti := textinput.New()
		ti.Placeholder = p.typeStr
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *inspectModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		v, err := f.params[i].parse(input.Value())
		if err != nil {
			return callResultMsg{err: fmt.Errorf("%s: %w", f.params[i].name, err)}
		}
		args[i] = v
	}

	m.rec.Reset()
	res := invoke(context.Background(), m.sess, f.sig.Name, args)
	if res.handle != ledger.Null {
		res.raw = rawBlock(m.sess, res.handle)
	}
	for _, e := range m.rec.Events() {
		res.events = append(res.events, formatEvent(e))
	}
	return res
}

// invoke makes one typed call through the session's consumer.
func invoke(ctx context.Context, sess *boundary.Session, name string, args []any) callResultMsg {
	c := sess.Client()
	i32 := func(i int) int32 { return args[i].(int32) }

	switch name {
	case contract.FnPing:
		return callResultMsg{err: c.Ping(ctx), value: "ok"}
	case contract.FnPassCInt:
		return callResultMsg{err: c.PassCInt(ctx, i32(0)), value: "ok"}
	case contract.FnPassInt32:
		return callResultMsg{err: c.PassInt32(ctx, i32(0)), value: "ok"}
	case contract.FnGetCInt:
		v, err := c.GetCInt(ctx)
		return callResultMsg{err: err, value: strconv.Itoa(int(v))}

	case contract.FnGetPoint:
		ref, err := c.NewPoint(ctx, i32(0), i32(1))
		if err != nil {
			return callResultMsg{err: err}
		}
		p, err := ref.Read(ctx)
		return callResultMsg{err: err, handle: ref.Handle(), value: fmt.Sprintf("Point{x: %d, y: %d}", p.X, p.Y)}

	case contract.FnGetIntegerNumber, contract.FnGetFloatNumber:
		var n contract.Number
		if name == contract.FnGetFloatNumber {
			n = contract.Float(args[0].(float32))
		} else {
			n = contract.Integer(i32(0))
		}
		ref, err := c.NewNumber(ctx, n)
		if err != nil {
			return callResultMsg{err: err}
		}
		v, err := ref.Read(ctx)
		if err != nil {
			return callResultMsg{err: err, handle: ref.Handle()}
		}
		return callResultMsg{handle: ref.Handle(), value: v.String()}

	case contract.FnGetNamedCollection, contract.FnMakeNamedCollection:
		acquire := func() (collectionReader, error) { return c.AcquireCollection(ctx) }
		if name == contract.FnMakeNamedCollection {
			values, _ := args[1].([]int32)
			acquire = func() (collectionReader, error) { return c.MakeCollection(ctx, args[0].(string), values) }
		}
		ref, err := acquire()
		if err != nil {
			return callResultMsg{err: err}
		}
		coll, err := ref.Read(ctx)
		if err != nil {
			return callResultMsg{err: err, handle: ref.Handle()}
		}
		return callResultMsg{handle: ref.Handle(),
			value: fmt.Sprintf("NamedCollection{name: %q, len: %d, values: %v}", coll.Name, coll.Len(), coll.Values)}

	case contract.FnFreeNamedCollection:
		h := args[0].(ledger.Handle)
		if err := c.ReleaseHandle(ctx, h); err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{value: "released " + h.String()}

	case contract.FnBorrow:
		h := args[0].(ledger.Handle)
		addr, err := sess.Library().Borrow(h)
		return callResultMsg{err: err, handle: h, value: fmt.Sprintf("%#x", addr)}

	case contract.FnReturnBorrow:
		h := args[0].(ledger.Handle)
		return callResultMsg{err: sess.Library().ReturnBorrow(h), value: "returned " + h.String()}

	case contract.FnRealloc:
		ptr, err := sess.Library().Realloc(uint32(i32(0)), uint32(i32(1)), uint32(i32(2)), uint32(i32(3)))
		return callResultMsg{err: err, value: fmt.Sprintf("%#x", ptr)}

	case contract.FnLastError:
		st, err := c.LastError(ctx)
		return callResultMsg{err: err, value: fmt.Sprintf("%d (%s)", int32(st), st)}
	}
	return callResultMsg{err: fmt.Errorf("no such entry point %q", name)}
}

type collectionReader interface {
	Handle() ledger.Handle
	Read(ctx context.Context) (contract.Collection, error)
}

// rawBlock renders the bytes of the block behind h.
func rawBlock(sess *boundary.Session, h ledger.Handle) string {
	e, ok := sess.Ledger().Get(h)
	if !ok {
		return ""
	}
	wt, ok := e.TypeID.Layout()
	if !ok {
		return ""
	}
	size := contract.Calc.Calculate(wt).Size
	data, err := sess.Memory().Read(e.Rep, size)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%#08x: % x", e.Rep, data)
}

func formatEvent(e ledger.Event) string {
	s := fmt.Sprintf("%s %s %s", e.Type, e.Handle, e.TypeID)
	if e.Type == ledger.EventTransferred {
		s += fmt.Sprintf(" %s->%s", e.From, e.To)
	}
	return s
}

func (m *inspectModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.sess == nil {
		return "Opening session..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("cffi inspector"))
	b.WriteString(" ")
	b.WriteString(m.cfg.Memory.Backend)
	b.WriteString(" session ")
	b.WriteString(m.sess.ID().String())
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select an entry point to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.sig.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.params[i].typeStr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.sig.Name)))
		if m.result.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.result.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result.value))
			if m.result.handle != ledger.Null {
				b.WriteString(" ")
				b.WriteString(typeStyle.Render(m.result.handle.String()))
			}
		}
		if m.result.raw != "" {
			b.WriteString("\n")
			b.WriteString(helpStyle.Render(m.result.raw))
		}
		b.WriteString("\n\n")
		if len(m.result.events) > 0 {
			b.WriteString(panelStyle.Render("events\n" + strings.Join(m.result.events, "\n")))
			b.WriteString("\n")
		}
		b.WriteString(m.ledgerPanel())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *inspectModel) ledgerPanel() string {
	lines := []string{"ledger"}
	for _, e := range m.sess.Ledger().Outstanding() {
		lines = append(lines, fmt.Sprintf("%s %-16s %-8s %-11s borrows %d rep %#x",
			e.Handle, e.TypeID, e.Owner, e.Policy, e.Borrows, e.Rep))
	}
	hs := m.sess.Heap().Stats()
	lines = append(lines, fmt.Sprintf("heap: %d live blocks, %d bytes live, %d allocs, %d frees",
		hs.LiveBlocks, hs.LiveBytes, hs.Allocs, hs.Frees))
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.params {
		params = append(params, p.name+": "+typeStyle.Render(p.typeStr))
	}
	result := ""
	if len(f.sig.Results) > 0 {
		result = " -> " + typeStyle.Render(f.sig.CResult)
	}
	return funcStyle.Render(f.sig.Name) + "(" + strings.Join(params, ", ") + ")" + result
}
