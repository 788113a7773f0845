// Package workload provides demo programs that run on managed VM threads so
// there is something to profile.
package workload

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/vm"
)

// Workload is a named program body. Run loops until ctx is done.
type Workload struct {
	Name        string
	Description string
	Run         func(ctx context.Context, machine *vm.VM, t *vm.Thread)
}

var registry = map[string]Workload{}

func register(w Workload) {
	registry[w.Name] = w
}

func init() {
	register(Workload{Name: "tak", Description: "Takeuchi function tak(14, 10, 1), deep mutual recursion", Run: runTak})
	register(Workload{Name: "fib", Description: "Naive recursive fibonacci", Run: runFib})
	register(Workload{Name: "mandelbrot", Description: "Mandelbrot set rendered row by row", Run: runMandelbrot})
	register(Workload{Name: "sleeper", Description: "Mostly sleeping thread, visible only in wall mode", Run: runSleeper})
	register(Workload{Name: "spawner", Description: "Spawns short-lived fib threads", Run: runSpawner})
}

// Names returns the registered workload names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the workload registered under name.
func Lookup(name string) (Workload, error) {
	w, ok := registry[name]
	if !ok {
		return Workload{}, fmt.Errorf("unknown workload %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return w, nil
}

// Spawn starts the named workload on a new thread of machine. The thread
// exits once ctx is done.
func Spawn(ctx context.Context, machine *vm.VM, name string) (*vm.Thread, error) {
	w, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return machine.Spawn(w.Name, func(t *vm.Thread) {
		w.Run(ctx, machine, t)
	}), nil
}

var (
	wlTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	wlHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	wlDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// RenderCatalog lists the registered workloads.
func RenderCatalog(w io.Writer) {
	fmt.Fprintln(w, wlTitle.Render("Workloads"))
	fmt.Fprintln(w, wlDim.Render(strings.Repeat("═", 60)))
	fmt.Fprintf(w, "  %s %s\n", wlHeader.Render("NAME        "), wlHeader.Render("DESCRIPTION"))
	for _, n := range Names() {
		fmt.Fprintf(w, "  %-14s %s\n", n, registry[n].Description)
	}
}

// methods caches the method handles a workload pushes on its stack.
type methods map[string]host.Handle

func define(machine *vm.VM, file string, names ...string) methods {
	m := make(methods, len(names))
	for _, n := range names {
		m[n] = machine.DefineMethod(n, file)
	}
	return m
}

func runTak(ctx context.Context, machine *vm.VM, t *vm.Thread) {
	m := define(machine, "tak.rb", "main", "takeuchi")
	var tak func(x, y, z int) int
	tak = func(x, y, z int) int {
		if x <= y || ctx.Err() != nil {
			return y
		}
		var r int
		t.Call(m["takeuchi"], 9, func() {
			r = tak(tak(x-1, y, z), tak(y-1, z, x), tak(z-1, x, y))
		})
		return r
	}
	t.Call(m["main"], 17, func() {
		for ctx.Err() == nil {
			tak(14, 10, 1)
		}
	})
}

func runFib(ctx context.Context, machine *vm.VM, t *vm.Thread) {
	m := define(machine, "fib.rb", "main", "fib")
	t.Call(m["main"], 1, func() {
		for ctx.Err() == nil {
			fib(ctx, t, m["fib"], 24)
		}
	})
}

func fib(ctx context.Context, t *vm.Thread, method host.Handle, n int) int {
	if n < 2 || ctx.Err() != nil {
		return n
	}
	var r int
	t.Call(method, int32(3+n%2), func() {
		r = fib(ctx, t, method, n-1) + fib(ctx, t, method, n-2)
	})
	return r
}

func runMandelbrot(ctx context.Context, machine *vm.VM, t *vm.Thread) {
	m := define(machine, "mandelbrot.rb", "main", "render", "row", "escape_time")
	const size = 120
	t.Call(m["main"], 1, func() {
		for ctx.Err() == nil {
			t.Call(m["render"], 5, func() {
				for y := 0; y < size && ctx.Err() == nil; y++ {
					t.Call(m["row"], 8, func() {
						for x := 0; x < size; x++ {
							t.Call(m["escape_time"], 14, func() {
								escapeTime(float64(x)/size*3.5-2.5, float64(y)/size*2-1, 200)
							})
						}
					})
				}
			})
		}
	})
}

func escapeTime(cr, ci float64, limit int) int {
	zr, zi := 0.0, 0.0
	for i := 0; i < limit; i++ {
		zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
		if zr*zr+zi*zi > 4 {
			return i
		}
	}
	return limit
}

func runSleeper(ctx context.Context, machine *vm.VM, t *vm.Thread) {
	m := define(machine, "sleeper.rb", "main", "sleep")
	t.Call(m["main"], 1, func() {
		for ctx.Err() == nil {
			t.Call(m["sleep"], 2, func() {
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Millisecond):
				}
			})
		}
	})
}

func runSpawner(ctx context.Context, machine *vm.VM, t *vm.Thread) {
	m := define(machine, "spawner.rb", "main", "spawn_child", "fib")
	t.Call(m["main"], 1, func() {
		for ctx.Err() == nil {
			var child *vm.Thread
			t.Call(m["spawn_child"], 3, func() {
				child = machine.Spawn("child", func(c *vm.Thread) {
					fib(ctx, c, m["fib"], 20)
				})
			})
			child.Join()
		}
	})
}
