package filter

/*
Here the Env used in the authorization rules is defined.
Rules are configured by operators, so renaming a property breaks existing configurations.
*/

type User struct {
	Id       int64
	Name     string
	Role     string
	Location string
	Regalia  string
	Coins    int64
}

type Env struct {
	User
	Action     string // "put" or "delete"
	Collection string
	HasRole    func(string) bool
}
