// Package httpapp provides the HTTP server for Teacher Forum.
//
//	@title						Teacher Forum API
//	@version					1.0
//	@description				A discussion forum for teachers. Discussions are filed under curriculum
//	@description				standard topic tags and collect comments.
//	@description
//	@description				## Authentication
//	@description
//	@description				Reads are open. Every write needs a token from the authenticate endpoint:
//	@description				```bash
//	@description				curl -X POST /api/v1/authenticate -d '{"email":"me@school.org","appName":"my-app"}'
//	@description				# Returns: {"token": "TOKEN"}
//	@description				```
//	@description
//	@description				Send it on the Authorization header, with or without the Bearer prefix
//	@description				depending on the configured scheme:
//	@description				```bash
//	@description				curl -X PATCH /api/v1/discussions/1 -H "Authorization: Bearer TOKEN" -d '{"body":"..."}'
//	@description				```
//	@description
//	@description				Missing or invalid tokens get a 403.
//
//	@contact.name				Teacher Forum
//	@license.name				MIT
//
//	@host						localhost:3000
//	@BasePath					/
//
//	@securityDefinitions.apikey	TokenAuth
//	@in							header
//	@name						Authorization
//	@description				Token from /api/v1/authenticate
//
//	@tag.name					Auth
//	@tag.description			Token issuance.
//
//	@tag.name					TopicTags
//	@tag.description			Curriculum standard codes. Read-only over the API.
//
//	@tag.name					Discussions
//	@tag.description			Threads filed under a topic tag. Deleting one removes its comments.
//
//	@tag.name					Comments
//	@tag.description			Replies on a discussion.
package httpapp
