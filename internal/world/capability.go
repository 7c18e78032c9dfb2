package world

// Container marks an object that can hold and expose its inventory to
// players (bags, chests, corpses). Rooms hold inventory without being
// Containers; the capability is about player access.
type Container struct {
	Open     bool
	Locked   bool
	Capacity int // max child count, 0 = unbounded
}

// CanAccept reports whether one more object fits.
func (c *Container) CanAccept(holder *Object) bool {
	if !c.Open || c.Locked {
		return false
	}
	return c.Capacity == 0 || len(holder.inventory) < c.Capacity
}

// Equippable marks a wearable or wieldable object.
type Equippable struct {
	Slot   string // "weapon", "head", "torso", ...
	WornBy ID     // 0 when not worn
}

// IsContainer reports the container capability.
func (o *Object) IsContainer() bool { return !o.destroyed && o.Container != nil }

// IsEquippable reports the equippable capability.
func (o *Object) IsEquippable() bool { return !o.destroyed && o.Equip != nil }
