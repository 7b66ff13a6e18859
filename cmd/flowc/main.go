package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/compile"
	"github.com/goliatone/go-workflow/diagram"
	"github.com/goliatone/go-workflow/model"
	"github.com/goliatone/go-workflow/registry"
)

// Globals are flags shared by every subcommand. Definitions reference
// conditions and discriminators by name; --expr binds a name to a JavaScript
// expression, and --permissive resolves whatever is left with inert
// fallbacks so structure can be checked without the host's registrations.
type Globals struct {
	Expr       map[string]string `help:"Bind a condition or discriminator reference to a JavaScript expression over $ (the instance state)." placeholder:"name=expr"`
	Permissive bool              `help:"Resolve missing references with inert fallbacks."`
}

type cli struct {
	Globals

	Validate ValidateCmd `cmd:"" help:"Check that a definition builds."`
	Compile  CompileCmd  `cmd:"" help:"Compile a definition and print its transition table."`
	Diagram  DiagramCmd  `cmd:"" help:"Compile a definition and print a Mermaid state diagram."`
}

// ValidateCmd builds the definition through the model builder only.
type ValidateCmd struct {
	File string `arg:"" help:"Workflow definition (YAML or JSON)." type:"existingfile"`
}

func (c *ValidateCmd) Run(_ *Globals) error {
	wf, err := loadWorkflow(c.File)
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d steps, %d loops, %d branches, %d forks, %d approvals)\n",
		wf.Name, len(wf.Steps), len(wf.Loops), len(wf.Branches), len(wf.Forks), len(wf.Approvals))
	return nil
}

// CompileCmd compiles and prints the handler table.
type CompileCmd struct {
	File string `arg:"" help:"Workflow definition (YAML or JSON)." type:"existingfile"`
}

func (c *CompileCmd) Run(g *Globals) error {
	machine, err := compileFile(c.File, g)
	if err != nil {
		return err
	}

	fmt.Printf("workflow %s", machine.Workflow)
	if machine.Version != "" {
		fmt.Printf(" version %s", machine.Version)
	}
	fmt.Printf(": %d handlers, %d phases\n\n", len(machine.Handlers), len(machine.Phases))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLER\tTRIGGER\tTARGETS")
	for _, h := range machine.Handlers {
		targets := ""
		for i, t := range h.Targets {
			if i > 0 {
				targets += ", "
			}
			targets += t
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name, h.Trigger.Key(), targets)
	}
	return w.Flush()
}

// DiagramCmd compiles and prints the Mermaid export.
type DiagramCmd struct {
	File string `arg:"" help:"Workflow definition (YAML or JSON)." type:"existingfile"`
}

func (c *DiagramCmd) Run(g *Globals) error {
	machine, err := compileFile(c.File, g)
	if err != nil {
		return err
	}
	fmt.Print(diagram.Mermaid(machine))
	return nil
}

func loadWorkflow(path string) (*model.Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return model.ParseDefinition(raw)
}

func compileFile(path string, g *Globals) (*compile.Machine, error) {
	wf, err := loadWorkflow(path)
	if err != nil {
		return nil, err
	}
	resolver, err := buildResolver(g)
	if err != nil {
		return nil, err
	}
	return compile.Compile(wf, resolver)
}

func buildResolver(g *Globals) (registry.Resolver, error) {
	reg := registry.New()
	for name, expr := range g.Expr {
		if err := reg.RegisterExprCondition(name, expr); err != nil {
			return nil, err
		}
		if err := reg.RegisterExprDiscriminator(name, expr); err != nil {
			return nil, err
		}
	}
	if g.Permissive {
		return permissiveResolver{inner: reg}, nil
	}
	return reg, nil
}

// permissiveResolver falls back to inert implementations for references the
// registry cannot resolve. Conditions never fire, discriminators yield nil,
// and mergers shallow-merge.
type permissiveResolver struct {
	inner *registry.Registry
}

func (p permissiveResolver) Condition(ref string) (registry.ConditionFunc, bool) {
	if fn, ok := p.inner.Condition(ref); ok {
		return fn, true
	}
	return func(workflow.State) bool { return false }, true
}

func (p permissiveResolver) Discriminator(ref string) (registry.DiscriminatorFunc, bool) {
	if fn, ok := p.inner.Discriminator(ref); ok {
		return fn, true
	}
	return func(workflow.State) any { return nil }, true
}

func (p permissiveResolver) Merger(stateType string) (registry.Merger, bool) {
	if m, ok := p.inner.Merger(stateType); ok {
		return m, true
	}
	return registry.MergerFunc(func(current, output workflow.State) workflow.State {
		return workflow.MergeState(current, output)
	}), true
}

func main() {
	app := &cli{}
	ctx := kong.Parse(app,
		kong.Name("flowc"),
		kong.Description("Compile workflow definitions into flattened transition tables."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&app.Globals))
}
