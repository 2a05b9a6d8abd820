// Package simulation is a multi-turn test harness for worldline scenarios.
//
// A scenario seeds a world from a graph document, loads Lua rule scripts and
// advances a number of turns on a real engine backed by a real row store; no
// mocks. After every turn the runner records the turn report and the values
// of the watched stats, so tests can assert on how the world evolved.
//
// Each run gets its own store under t.TempDir() and a sandboxed HOME.
//
// Usage:
//
//	func TestGarden(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    res := r.Run(simulation.Scenario{
//	        Name:    "garden",
//	        World:   gardenDoc,
//	        Scripts: map[string]string{"growth.lua": growth},
//	        Turns:   5,
//	        Watch:   []string{"garden.rose.size"},
//	    })
//	    simulation.AssertEventually(t, res, "garden.rose.size", int64(3))
//	}
package simulation
