package model

import "errors"

var ErrorUnknownConversation = errors.New("unknown conversation")
var ErrorMessageNotFound = errors.New("message not found")
var ErrorDuplicateExternalID = errors.New("duplicate external id")
var ErrorTransactionFailure = errors.New("transaction failure")
var ErrorSendRejected = errors.New("send rejected")
var ErrorInvalidPassword = errors.New("invalid password")
var ErrorUnauthorized = errors.New("unauthorized")
