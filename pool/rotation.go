/*
rotation.go - Ownership rotation for New units

POLICY:
  Among collaborators who own strictly fewer New units than the target
  share, pick the one owning the fewest. Ties go to the earlier roster
  position. When everyone has reached the target the rotation is
  exhausted: NextOwner returns ok=false, which is not an error. A human can
  still force an owner for edge cases (uneven roster, manual swaps).

  Roster [A, B, C, D], target 3, no New units yet:
    A, B, C, D, A, B, C, D, A, B, C, D, then exhausted

  A collaborator's own TargetShare, when set, caps them below the global
  target.

Original units are shared and never count toward anyone's share.
*/
package pool

// NextOwner chooses who receives the next New unit.
func NextOwner(units Units, roster Roster, targetShare int) (Collaborator, bool) {
	counts := ownedNewCounts(units)

	best := -1
	for i, c := range roster {
		if counts[c.ID] >= shareLimit(c, targetShare) {
			continue
		}
		if best < 0 || counts[c.ID] < counts[roster[best].ID] {
			best = i
		}
	}
	if best < 0 {
		return Collaborator{}, false
	}
	return roster[best], true
}

// OwnershipCounts returns New-unit counts per roster member, in roster order.
func OwnershipCounts(units Units, roster Roster) []int {
	counts := ownedNewCounts(units)
	out := make([]int, len(roster))
	for i, c := range roster {
		out[i] = counts[c.ID]
	}
	return out
}

func ownedNewCounts(units Units) map[CollaboratorID]int {
	counts := make(map[CollaboratorID]int)
	for _, u := range units {
		if u.Kind == KindNew && u.Owner != "" {
			counts[u.Owner]++
		}
	}
	return counts
}

func shareLimit(c Collaborator, targetShare int) int {
	limit := targetShare
	if c.TargetShare > 0 && (limit <= 0 || c.TargetShare < limit) {
		limit = c.TargetShare
	}
	return limit
}
