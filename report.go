package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	"github.com/bissonex/vscode-amiga-assembly/debugger"
	e "github.com/bissonex/vscode-amiga-assembly/error"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// report 以表格形式输出调试会话的当前状态
type report struct {
	out   io.Writer
	debug *debugger.AmigaDebugger
}

func newReport(out io.Writer, debug *debugger.AmigaDebugger) *report {
	return &report{out: out, debug: debug}
}

func (r *report) table(title string, header []string, rows [][]string) error {
	fmt.Fprintf(r.out, "\n%s\n", title)
	table := tablewriter.NewWriter(r.out)
	table.Header(lo.ToAnySlice(header)...)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (r *report) snapshot(ctx context.Context) error {
	steps := []func(context.Context) error{
		r.threads,
		r.haltStatus,
		r.registers,
		r.stack,
		r.segments,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *report) threads(ctx context.Context) error {
	threads, err := r.debug.GetThreads(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(threads))
	for _, t := range threads {
		rows = append(rows, []string{strconv.Itoa(t.Id), t.Name})
	}
	return r.table("Threads", []string{"id", "name"}, rows)
}

func (r *report) haltStatus(ctx context.Context) error {
	statuses, err := r.debug.GetHaltStatus(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{strconv.Itoa(s.ThreadId), s.Reason, s.Description})
	}
	return r.table("Halt status", []string{"thread", "reason", "description"}, rows)
}

func (r *report) registers(ctx context.Context) error {
	variables, err := r.debug.GetRegisters(ctx, constants.SysThreadIDCPU)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(variables))
	for _, v := range variables {
		rows = append(rows, []string{v.Name, v.Value})
	}
	return r.table("Registers", []string{"name", "value"}, rows)
}

func (r *report) stack(ctx context.Context) error {
	rows := [][]string{}
	for _, id := range []int{constants.SysThreadIDCPU, constants.SysThreadIDCopper} {
		frames, err := r.debug.GetStackTrace(ctx, id)
		if errors.Is(err, e.ErrThreadNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for _, f := range frames {
			rows = append(rows, []string{strconv.Itoa(id), strconv.Itoa(f.Id), f.Name, f.InstructionPointerReference})
		}
	}
	return r.table("Stack", []string{"thread", "frame", "location", "pc"}, rows)
}

func (r *report) segments(_ context.Context) error {
	segments := r.debug.Proxy().GetSegments()
	rows := make([][]string, 0, len(segments))
	for _, s := range segments {
		rows = append(rows, []string{strconv.Itoa(s.ID), s.Name, fmt.Sprintf("$%08x", s.Address), fmt.Sprintf("$%x", s.Size)})
	}
	return r.table("Segments", []string{"id", "name", "address", "size"}, rows)
}
