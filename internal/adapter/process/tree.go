package process

import (
	"github.com/shirou/gopsutil/v4/process"
)

// snapshotTree returns pid and all of its descendants, parents first.
// It must be taken before signalling: once a parent dies its children are
// re-parented and can no longer be found from it.
func snapshotTree(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	tree := []*process.Process{root}
	for i := 0; i < len(tree); i++ {
		children, err := tree[i].Children()
		if err != nil {
			continue
		}
		tree = append(tree, children...)
	}
	return tree
}

func terminateTree(tree []*process.Process) {
	for _, p := range tree {
		_ = p.Terminate()
	}
}

// killTree kills every member of the tree that is still alive, leaves first.
func killTree(tree []*process.Process) {
	for i := len(tree) - 1; i >= 0; i-- {
		if running, err := tree[i].IsRunning(); err == nil && running {
			_ = tree[i].Kill()
		}
	}
}

// Suspend stops a process tree without terminating it.
func Suspend(pid int) error {
	tree := snapshotTree(pid)
	if len(tree) == 0 {
		return process.ErrorProcessNotRunning
	}
	for i := len(tree) - 1; i >= 0; i-- {
		if err := tree[i].Suspend(); err != nil && i == 0 {
			return err
		}
	}
	return nil
}

// Resume continues a suspended process tree.
func Resume(pid int) error {
	tree := snapshotTree(pid)
	if len(tree) == 0 {
		return process.ErrorProcessNotRunning
	}
	for _, p := range tree {
		if err := p.Resume(); err != nil && p.Pid == int32(pid) {
			return err
		}
	}
	return nil
}
