// Command vm161sim boots a simulated vm161 machine, lays out a small
// address space, drives a few page faults, and prints the resulting
// diagnostics. It exists to exercise the "surface to loaders/syscalls"
// spec §6 names (as_create ... as_activate, vm_fault) the way a real
// kernel's exec() path would, since this module otherwise has no
// caller of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vm161/vm161"
	"github.com/vm161/vm161/internal/diag"
)

func main() {
	var (
		ramPages     = flag.Int("ram-pages", 256, "number of simulated physical RAM pages")
		tlbSlots     = flag.Int("tlb-slots", 64, "number of simulated TLB slots")
		randomDur    = flag.Duration("random-timeout", 2*time.Second, "deadline for the randomness device read")
		stressProcs  = flag.Int("stress-procs", 0, "simulate this many concurrent processes hammering alloc_kpages/free_kpages before the single-AS demo (0 disables)")
		stressRounds = flag.Int("stress-rounds", 50, "alloc/free rounds each simulated process runs")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "vm161sim: ", log.LstdFlags)

	sys, err := vm161.NewSimSystem(*ramPages, *tlbSlots)
	if err != nil {
		logger.Fatalf("constructing simulated machine: %v", err)
	}
	defer sys.Close()

	sys.Bootstrap()
	logger.Printf("bootstrapped: %d pages of simulated RAM, %d TLB slots", *ramPages, *tlbSlots)

	if *stressProcs > 0 {
		if err := runAllocStress(sys, logger, *stressProcs, *stressRounds); err != nil {
			logger.Fatalf("alloc stress: %v", err)
		}
	}

	as := sys.NewAddressSpace()
	if err := as.DefineRegion(0x00400000, 5*4096, true, false, true); err != nil {
		logger.Fatalf("define region 1: %v", err)
	}
	if err := as.DefineRegion(0x00410000, 3*4096, true, true, false); err != nil {
		logger.Fatalf("define region 2: %v", err)
	}
	if err := as.PrepareLoad(); err != nil {
		logger.Fatalf("prepare load: %v", err)
	}
	as.CompleteLoad()

	ctx, cancel := context.WithTimeout(context.Background(), *randomDur)
	defer cancel()
	stackva, err := sys.DefineStack(ctx, as)
	if err != nil {
		logger.Fatalf("define stack: %v", err)
	}
	logger.Printf("stack base: 0x%08x", uint32(stackva))

	as.Activate()
	sys.Threads.SetAS(as)

	faultva := as.Region1.VBase + 0x200
	if err := sys.Fault(os.Stdout, vm161.FaultWrite, faultva); err != nil {
		logger.Fatalf("fault at 0x%08x: %v", faultva, err)
	}
	logger.Printf("resolved fault at 0x%08x", uint32(faultva))

	fmt.Println("--- TLB ---")
	diag.DumpTLB(os.Stdout, sys.TLB)
	fmt.Println("--- buddy list ---")
	diag.DumpBuddyList(os.Stdout, sys.PFA)

	clone, err := sys.Copy(ctx, as)
	if err != nil {
		logger.Fatalf("copy address space: %v", err)
	}
	logger.Printf("cloned address space: region1 pbase=0x%x region2 pbase=0x%x stack pbase=0x%x",
		uint64(clone.Region1.PBase), uint64(clone.Region2.PBase), uint64(clone.StackPBase))

	clone.Destroy()
	as.Destroy()
}

// runAllocStress simulates nprocs concurrent processes each repeatedly
// calling alloc_kpages/free_kpages against the shared PFA, standing in
// for the concurrent syscall traffic a real multiprocess kernel would
// put through the allocator. It fans the simulated processes out with
// errgroup.Group rather than a hand-rolled sync.WaitGroup loop, the way
// the allocator's own T3 conservation test does.
func runAllocStress(sys *vm161.System, logger *log.Logger, nprocs, rounds int) error {
	g, _ := errgroup.WithContext(context.Background())
	for p := 0; p < nprocs; p++ {
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				kva, err := sys.AllocKpages(1)
				if err != nil {
					continue // simulated OOM under contention is not itself a failure
				}
				sys.FreeKpages(kva)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Printf("alloc stress: %d simulated processes completed %d rounds each, %d pages free",
		nprocs, rounds, sys.PFA.FreePages())
	return nil
}
