package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeUnauthorized       = 40100
	CodeForbidden          = 40300
	CodeInternalServer     = 50000
	CodeUsernameExists     = 40001
	CodeEmailExists        = 40002
	CodeInvalidCredentials = 40101
	CodeUserNotFound       = 40401
)

// Messages returned by the file endpoints. Callers only ever learn whether
// a query was denied or failed, never why.
const (
	MessageUploaded       = "File uploaded successfully"
	MessageSaveFailed     = "Failed to save file"
	MessageUnauthorized   = "Unauthorized"
	MessageInternalError  = "Internal server error"
	MessageInvalidRequest = "Invalid request"
	MessageNotFound       = "Not found"
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// Message writes the flat {"message": ...} body used by the file endpoints.
func Message(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, gin.H{"message": message})
}
