package services

import "fmt"

// Actor is whoever drives a transition: a guest acting for a table, or an
// authenticated staff member. Exactly one of TableID and StaffID is set.
type Actor struct {
	TableID uint
	StaffID string
}

func TableActor(tableID uint) Actor {
	return Actor{TableID: tableID}
}

func StaffActor(staffID string) Actor {
	return Actor{StaffID: staffID}
}

func (a Actor) IsStaff() bool {
	return a.StaffID != ""
}

// String is the value recorded in resolved_by / ended_by columns.
func (a Actor) String() string {
	if a.IsStaff() {
		return "staff:" + a.StaffID
	}
	return fmt.Sprintf("table:%d", a.TableID)
}
