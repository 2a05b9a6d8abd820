package script

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Shopify/go-lua"

	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/sanitize"
	"github.com/nvandessel/worldline/internal/utils"
	"github.com/nvandessel/worldline/internal/world"
)

var errNoTurn = errors.New("no turn in progress")

func (rt *Runtime) registerModule() {
	l := rt.state
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "trigger", Function: rt.registerFunction("trigger")},
		{Name: "prereq", Function: rt.registerFunction("prereq")},
		{Name: "action", Function: rt.registerFunction("action")},
		{Name: "rule", Function: rt.declareRule},
		{Name: "tick", Function: rt.tick},
		{Name: "branch", Function: rt.branch},
		{Name: "random", Function: rt.random},
		{Name: "random_int", Function: rt.randomInt},
		{Name: "entity", Function: rt.entity},
		{Name: "log", Function: rt.log},
	}, 0)
	l.SetGlobal("worldline")
}

func (rt *Runtime) registerEntityType() {
	l := rt.state
	lua.NewMetaTable(l, entityTypeName)
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "name", Function: rt.entityName},
		{Name: "kind", Function: rt.entityKind},
		{Name: "character", Function: rt.entityCharacter},
		{Name: "exists", Function: rt.entityExists},
		{Name: "stat", Function: rt.entityStat},
		{Name: "set_stat", Function: rt.entitySetStat},
		{Name: "del_stat", Function: rt.entityDelStat},
		{Name: "stats", Function: rt.entityStats},
		{Name: "location", Function: rt.entityLocation},
		{Name: "move", Function: rt.entityMove},
		{Name: "journey", Function: rt.entityJourney},
		{Name: "contents", Function: rt.entityContents},
		{Name: "successors", Function: rt.entitySuccessors},
		{Name: "delete", Function: rt.entityDelete},
	}, 0)
	l.SetField(-2, "__index")
	l.Pop(1)
}

// raise turns err into a Lua error, remembering it for the caller.
func (rt *Runtime) raise(l *lua.State, err error) int {
	rt.failure = err
	lua.Errorf(l, "%s", err.Error())
	return 0
}

func (rt *Runtime) context(l *lua.State) *rules.Context {
	if rt.cur == nil {
		rt.raise(l, errNoTurn)
	}
	return rt.cur
}

func (rt *Runtime) registerFunction(kind string) lua.Function {
	return func(l *lua.State) int {
		name := lua.CheckString(l, 1)
		lua.CheckType(l, 2, lua.TypeFunction)
		key := functionKey(kind, name)
		var err error
		switch kind {
		case "trigger":
			err = rt.registry.RegisterTrigger(name, rt.predicate(key))
		case "prereq":
			err = rt.registry.RegisterPrereq(name, rt.predicate(key))
		default:
			err = rt.registry.RegisterAction(name, rt.action(key))
		}
		if err != nil {
			return rt.raise(l, err)
		}
		l.Field(lua.RegistryIndex, functionsKey)
		l.PushValue(2)
		l.SetField(-2, key)
		l.Pop(1)
		return 0
	}
}

func (rt *Runtime) predicate(key string) rules.Predicate {
	return func(ctx *rules.Context, e world.Entity) (bool, error) {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if err := rt.call(ctx, key, e); err != nil {
			return false, err
		}
		ok := rt.state.ToBoolean(-1)
		rt.state.Pop(1)
		return ok, nil
	}
}

func (rt *Runtime) action(key string) rules.Action {
	return func(ctx *rules.Context, e world.Entity) (string, error) {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if err := rt.call(ctx, key, e); err != nil {
			return "", err
		}
		res, _ := rt.state.ToString(-1)
		rt.state.Pop(1)
		return sanitize.Text(res), nil
	}
}

func (rt *Runtime) declareRule(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	m, _ := tableToGo(l, 1).(map[string]any)
	d := Declaration{Priority: map[string]float64{}}
	d.Rule.Name = utils.GetString(m, "name", "")
	if d.Rule.Name == "" {
		return rt.raise(l, fmt.Errorf("rule name is required"))
	}
	d.Rule.Always = utils.GetBool(m, "always", false)
	d.Rule.Triggers = utils.GetStringSlice(m, "triggers")
	d.Rule.Prereqs = utils.GetStringSlice(m, "prereqs")
	d.Rule.Actions = utils.GetStringSlice(m, "actions")
	for _, b := range utils.GetSlice(m, "bind") {
		bm, _ := b.(map[string]any)
		s := rules.Scope{
			Kind:        rules.ScopeKind(utils.GetString(bm, "kind", "")),
			Character:   utils.GetString(bm, "character", ""),
			Node:        utils.GetString(bm, "node", ""),
			Origin:      utils.GetString(bm, "origin", ""),
			Destination: utils.GetString(bm, "destination", ""),
		}
		if err := s.Validate(); err != nil {
			return rt.raise(l, fmt.Errorf("rule %q: %w", d.Rule.Name, err))
		}
		d.Bind = append(d.Bind, s)
		if _, ok := bm["priority"]; ok {
			d.Priority[s.Key()] = utils.GetFloat64(bm, "priority", 0)
		}
	}
	rt.decls = append(rt.decls, d)
	return 0
}

func (rt *Runtime) tick(l *lua.State) int {
	l.PushInteger(rt.context(l).Tick)
	return 1
}

func (rt *Runtime) branch(l *lua.State) int {
	l.PushInteger(rt.context(l).Branch)
	return 1
}

func (rt *Runtime) random(l *lua.State) int {
	l.PushNumber(rt.context(l).Rand.Float64())
	return 1
}

// randomInt returns an integer in [1, n], like math.random(n).
func (rt *Runtime) randomInt(l *lua.State) int {
	n := lua.CheckInteger(l, 1)
	if n < 1 {
		lua.ArgumentError(l, 1, "interval is empty")
		return 0
	}
	l.PushInteger(rt.context(l).Rand.IntN(n) + 1)
	return 1
}

func (rt *Runtime) entity(l *lua.State) int {
	ctx := rt.context(l)
	c, err := ctx.World.Character(lua.CheckString(l, 1))
	if err != nil {
		l.PushNil()
		return 1
	}
	if l.IsNoneOrNil(2) {
		rt.pushEntity(c)
		return 1
	}
	n, err := c.Node(lua.CheckString(l, 2))
	if err != nil {
		l.PushNil()
		return 1
	}
	rt.pushEntity(n)
	return 1
}

func (rt *Runtime) log(l *lua.State) int {
	msg := lua.CheckString(l, 1)
	logger := rt.logger
	if rt.cur != nil && rt.cur.Logger != nil {
		logger = rt.cur.Logger
	}
	logger.Info(sanitize.Text(msg), "source", "script")
	return 0
}

func (rt *Runtime) pushEntity(e any) {
	rt.state.PushUserData(e)
	lua.SetMetaTableNamed(rt.state, entityTypeName)
}

func checkEntity(l *lua.State) world.Entity {
	ud := lua.CheckUserData(l, 1, entityTypeName)
	if e, ok := ud.(world.Entity); ok && e != nil {
		return e
	}
	lua.ArgumentError(l, 1, "entity expected")
	return nil
}

func (rt *Runtime) checkThing(l *lua.State) *world.Thing {
	e := checkEntity(l)
	t, ok := e.(*world.Thing)
	if !ok {
		rt.raise(l, fmt.Errorf("%s %q is not a thing", e.Kind(), e.Name()))
	}
	return t
}

func (rt *Runtime) entityName(l *lua.State) int {
	l.PushString(checkEntity(l).Name())
	return 1
}

func (rt *Runtime) entityKind(l *lua.State) int {
	l.PushString(string(checkEntity(l).Kind()))
	return 1
}

func (rt *Runtime) entityCharacter(l *lua.State) int {
	l.PushString(checkEntity(l).Character().Name())
	return 1
}

func (rt *Runtime) entityExists(l *lua.State) int {
	l.PushBoolean(checkEntity(l).Exists())
	return 1
}

func (rt *Runtime) entityStat(l *lua.State) int {
	v, _ := checkEntity(l).Stat(lua.CheckString(l, 2))
	pushValue(l, v)
	return 1
}

func (rt *Runtime) entitySetStat(l *lua.State) int {
	e := checkEntity(l)
	name := lua.CheckString(l, 2)
	v := luaToGo(l, 3)
	var err error
	if v == nil {
		err = e.DelStat(name)
	} else {
		err = e.SetStat(name, v)
	}
	if err != nil {
		return rt.raise(l, err)
	}
	return 0
}

func (rt *Runtime) entityDelStat(l *lua.State) int {
	if err := checkEntity(l).DelStat(lua.CheckString(l, 2)); err != nil {
		return rt.raise(l, err)
	}
	return 0
}

func (rt *Runtime) entityStats(l *lua.State) int {
	m := checkEntity(l).Stats()
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	pushValue(l, out)
	return 1
}

func (rt *Runtime) entityLocation(l *lua.State) int {
	loc, err := rt.checkThing(l).Location()
	if err != nil {
		return rt.raise(l, err)
	}
	if loc == nil {
		l.PushNil()
		return 1
	}
	l.PushString(loc.Descriptor())
	return 1
}

func (rt *Runtime) entityMove(l *lua.State) int {
	t := rt.checkThing(l)
	if err := t.SetLocation(lua.CheckString(l, 2)); err != nil {
		return rt.raise(l, err)
	}
	return 0
}

// entityJourney schedules the thing towards a place and returns the
// arrival tick.
func (rt *Runtime) entityJourney(l *lua.State) int {
	t := rt.checkThing(l)
	dest := lua.CheckString(l, 2)
	ctx := rt.context(l)
	if ctx.Travel == nil {
		return rt.raise(l, fmt.Errorf("journey of %q: travel is not available", t.Name()))
	}
	res, err := ctx.Travel.JourneyTo(t, dest)
	if err != nil {
		return rt.raise(l, err)
	}
	l.PushInteger(res.Arrive)
	return 1
}

func (rt *Runtime) entityContents(l *lua.State) int {
	var names []any
	switch n := checkEntity(l).(type) {
	case *world.Place:
		for _, t := range n.Contents() {
			names = append(names, t.Name())
		}
	case *world.Thing:
		for _, t := range n.Contents() {
			names = append(names, t.Name())
		}
	}
	pushValue(l, names)
	return 1
}

func (rt *Runtime) entitySuccessors(l *lua.State) int {
	var names []any
	if n, ok := checkEntity(l).(world.Node); ok {
		for _, s := range n.Successors() {
			names = append(names, s)
		}
	}
	pushValue(l, names)
	return 1
}

func (rt *Runtime) entityDelete(l *lua.State) int {
	if err := checkEntity(l).Delete(); err != nil {
		return rt.raise(l, err)
	}
	return 0
}

// pushValue pushes a normalized fact value. Lists become sequences; maps
// become tables with keys set in sorted order.
func pushValue(l *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case int64:
		l.PushInteger(int(x))
	case int:
		l.PushInteger(x)
	case float64:
		l.PushNumber(x)
	case string:
		l.PushString(x)
	case []any:
		l.CreateTable(len(x), 0)
		for i, item := range x {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		l.CreateTable(0, len(x))
		for _, k := range keys {
			pushValue(l, x[k])
			l.SetField(-2, k)
		}
	default:
		l.PushString(fmt.Sprint(x))
	}
}

func luaToGo(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return normalizeNumber(n)
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return nil
	}
}

func tableToGo(l *lua.State, index int) any {
	index = l.AbsIndex(index)
	isArray := true
	maxIndex, count := 0, 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				maxIndex = max(maxIndex, idx)
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}
	if isArray && count > 0 && maxIndex == count {
		out := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			out = append(out, luaToGo(l, -1))
			l.Pop(1)
		}
		return out
	}

	out := map[string]any{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			k, _ := l.ToString(-2)
			out[k] = luaToGo(l, -1)
		}
		l.Pop(1)
	}
	return out
}

// normalizeNumber maps integral Lua numbers onto the int64 fact domain.
func normalizeNumber(n float64) any {
	if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
		return int64(n)
	}
	return n
}
