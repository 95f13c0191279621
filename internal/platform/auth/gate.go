package auth

// Action is a mutation a console control can trigger.
type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Entity names a managed record type.
type Entity string

const (
	EntityPatient     Entity = "patient"
	EntityDoctor      Entity = "doctor"
	EntityAppointment Entity = "appointment"
)

// CanMutate decides whether the control for action on entity is enabled for
// role. It is advisory; the store decides what is actually allowed.
//
// Patients may be changed by any role. Editing or deleting doctors and
// appointments needs admin. Everything else needs some role.
func CanMutate(role Role, action Action, entity Entity) bool {
	if role == NoRole {
		return false
	}
	switch entity {
	case EntityDoctor, EntityAppointment:
		if action == ActionEdit || action == ActionDelete {
			return role == RoleAdmin
		}
	}
	return true
}

// Permissions is the enablement of the three mutation controls of a list view.
type Permissions struct {
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// PermissionsFor evaluates CanMutate for every action on entity.
func PermissionsFor(role Role, entity Entity) Permissions {
	return Permissions{
		Create: CanMutate(role, ActionCreate, entity),
		Edit:   CanMutate(role, ActionEdit, entity),
		Delete: CanMutate(role, ActionDelete, entity),
	}
}
