package bpf

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
)

// Offset of the `long id` field in the raw_syscalls/sys_enter record, after
// the 8 bytes of common tracepoint fields.
const sysEnterIDOffset = 8

// bpfFCurrentCPU selects the perf ring of the CPU running the program.
const bpfFCurrentCPU = 0xffffffff

// bpfNoExist is BPF_NOEXIST for bpf_map_update_elem.
const bpfNoExist = 1

// Stack layout of the probe, relative to the frame pointer.
const (
	stackKey32    = -4  // u32 key for filter_config / process_counts
	stackKey64    = -16 // u64 key for syscall_counts
	stackOne      = -24 // u64 initial counter value
	stackEvent    = -64 // SyscallEvent, EventSize bytes
	stackEventEnd = stackEvent + EventSize
)

// Objects holds the loaded programs and maps.
type Objects struct {
	TraceSysEnter *ebpf.Program `ebpf:"trace_sys_enter"`
	FilterConfig  *ebpf.Map     `ebpf:"filter_config"`
	SyscallCounts *ebpf.Map     `ebpf:"syscall_counts"`
	ProcessCounts *ebpf.Map     `ebpf:"process_counts"`
	Events        *ebpf.Map     `ebpf:"events"`
}

// Close releases the program and all maps.
func (o *Objects) Close() error {
	var errs []error
	if o.TraceSysEnter != nil {
		errs = append(errs, o.TraceSysEnter.Close())
	}
	for _, m := range []*ebpf.Map{o.FilterConfig, o.SyscallCounts, o.ProcessCounts, o.Events} {
		if m != nil {
			errs = append(errs, m.Close())
		}
	}
	return errors.Join(errs...)
}

// NewCollectionSpec describes the maps and the probe program.
func NewCollectionSpec() *ebpf.CollectionSpec {
	return &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			FilterMapName: {
				Name:       FilterMapName,
				Type:       ebpf.Hash,
				KeySize:    4,
				ValueSize:  8,
				MaxEntries: FilterMaxEntries,
			},
			SyscallCountsMapName: {
				Name:       SyscallCountsMapName,
				Type:       ebpf.PerCPUHash,
				KeySize:    8,
				ValueSize:  8,
				MaxEntries: SyscallCountsMaxEntries,
			},
			ProcessCountsMapName: {
				Name:       ProcessCountsMapName,
				Type:       ebpf.PerCPUHash,
				KeySize:    4,
				ValueSize:  8,
				MaxEntries: ProcessCountsMaxEntries,
			},
			// MaxEntries 0 is sized to the number of possible CPUs on load.
			EventsMapName: {
				Name:      EventsMapName,
				Type:      ebpf.PerfEventArray,
				KeySize:   4,
				ValueSize: 4,
			},
		},
		Programs: map[string]*ebpf.ProgramSpec{
			ProgramName: {
				Name:         ProgramName,
				Type:         ebpf.TracePoint,
				License:      "GPL",
				Instructions: ProbeInstructions(),
			},
		},
	}
}

// LoadObjects loads the collection into the kernel and assigns it to objs.
func LoadObjects(objs *Objects, opts *ebpf.CollectionOptions) error {
	if err := NewCollectionSpec().LoadAndAssign(objs, opts); err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}
	return nil
}

// ProbeInstructions assembles the raw_syscalls/sys_enter handler.
//
// Registers kept across helper calls:
//
//	R6 tracepoint context
//	R7 pid_tgid
//	R8 syscall number
//
// The program never loops and always returns 0.
func ProbeInstructions() asm.Instructions {
	insns := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.FnGetCurrentPidTgid.Call(),
		asm.Mov.Reg(asm.R7, asm.R0),
		asm.LoadMem(asm.R8, asm.R6, sysEnterIDOffset, asm.DWord),
	}

	// Filter on PID, then on syscall number.
	insns = append(insns, filterCheck("check_pid", FilterKeyPID, "check_syscall", func() asm.Instructions {
		return asm.Instructions{
			asm.Mov.Reg(asm.R2, asm.R7),
			asm.RSh.Imm(asm.R2, 32),
			asm.JNE.Reg(asm.R1, asm.R2, "exit"),
		}
	})...)
	insns = append(insns, filterCheck("check_syscall", FilterKeySyscall, "count_syscall", func() asm.Instructions {
		return asm.Instructions{
			asm.Mov.Reg(asm.R2, asm.R8),
			asm.Add.Imm(asm.R2, 1),
			asm.JNE.Reg(asm.R1, asm.R2, "exit"),
		}
	})...)

	// syscall_counts[nr] += 1
	insns = append(insns,
		asm.StoreMem(asm.RFP, stackKey64, asm.R8, asm.DWord).WithSymbol("count_syscall"),
	)
	insns = append(insns, incrementCounter(SyscallCountsMapName, stackKey64, "count_process")...)

	// process_counts[pid] += 1
	insns = append(insns,
		asm.Mov.Reg(asm.R1, asm.R7).WithSymbol("count_process"),
		asm.RSh.Imm(asm.R1, 32),
		asm.StoreMem(asm.RFP, stackKey32, asm.R1, asm.Word),
	)
	insns = append(insns, incrementCounter(ProcessCountsMapName, stackKey32, "build_event")...)

	// Event on the stack.
	insns = append(insns,
		asm.Mov.Reg(asm.R1, asm.R7).WithSymbol("build_event"),
		asm.RSh.Imm(asm.R1, 32),
		asm.StoreMem(asm.RFP, stackEvent+offPid, asm.R1, asm.Word),
		asm.StoreMem(asm.RFP, stackEvent+offTid, asm.R7, asm.Word),
		asm.StoreMem(asm.RFP, stackEvent+offSyscallNr, asm.R8, asm.DWord),
		asm.FnKtimeGetNs.Call(),
		asm.StoreMem(asm.RFP, stackEvent+offTimestamp, asm.R0, asm.DWord),
		asm.StoreImm(asm.RFP, stackEvent+offComm, 0, asm.DWord),
		asm.StoreImm(asm.RFP, stackEvent+offComm+8, 0, asm.DWord),
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, stackEvent+offComm),
		asm.Mov.Imm(asm.R2, CommLen),
		asm.FnGetCurrentComm.Call(),
		asm.JNE.Imm(asm.R0, 0, "exit"),

		// bpf_perf_event_output(ctx, &events, BPF_F_CURRENT_CPU, &event, size)
		asm.Mov.Reg(asm.R1, asm.R6),
		asm.LoadMapPtr(asm.R2, 0).WithReference(EventsMapName),
		asm.LoadImm(asm.R3, bpfFCurrentCPU, asm.DWord),
		asm.Mov.Reg(asm.R4, asm.RFP),
		asm.Add.Imm(asm.R4, stackEvent),
		asm.Mov.Imm(asm.R5, int32(stackEventEnd-stackEvent)),
		asm.FnPerfEventOutput.Call(),

		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	)

	return insns
}

// filterCheck looks up key in filter_config. A missing entry or a zero value
// jumps to next; otherwise the value is left in R1 and mismatch runs.
func filterCheck(label string, key uint32, next string, mismatch func() asm.Instructions) asm.Instructions {
	insns := asm.Instructions{
		asm.StoreImm(asm.RFP, stackKey32, int64(key), asm.Word).WithSymbol(label),
		asm.LoadMapPtr(asm.R1, 0).WithReference(FilterMapName),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, stackKey32),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, next),
		asm.LoadMem(asm.R1, asm.R0, 0, asm.DWord),
		asm.JEq.Imm(asm.R1, 0, next),
	}
	return append(insns, mismatch()...)
}

// incrementCounter bumps the CPU-local slot of a per-CPU hash, creating it
// with 1 when absent. Insert failures (map full) are ignored.
func incrementCounter(mapName string, keyOff int16, next string) asm.Instructions {
	create := mapName + "_create"
	return asm.Instructions{
		asm.LoadMapPtr(asm.R1, 0).WithReference(mapName),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(keyOff)),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, create),
		asm.LoadMem(asm.R1, asm.R0, 0, asm.DWord),
		asm.Add.Imm(asm.R1, 1),
		asm.StoreMem(asm.R0, 0, asm.R1, asm.DWord),
		asm.Ja.Label(next),

		asm.StoreImm(asm.RFP, stackOne, 1, asm.DWord).WithSymbol(create),
		asm.LoadMapPtr(asm.R1, 0).WithReference(mapName),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(keyOff)),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, stackOne),
		asm.Mov.Imm(asm.R4, bpfNoExist),
		asm.FnMapUpdateElem.Call(),
	}
}
