package model

const (
	TicketsTable  = "SupportTickets"
	MessagesTable = "TicketMessages"
	UsersTable    = "Users"
	RolesTable    = "Roles"
)

type UserItem struct {
	UserID       string `dynamodbav:"userId"`
	Email        string `dynamodbav:"email"`
	Name         string `dynamodbav:"name"`
	Role         string `dynamodbav:"role"`
	Status       string `dynamodbav:"status"`
	PasswordHash string `dynamodbav:"passwordHash"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

type RoleItem struct {
	RoleKey string `dynamodbav:"roleKey"`
	Name    string `dynamodbav:"name"`
	IsStaff bool   `dynamodbav:"isStaff"`
}

const UserStatusVerified = "verified"
