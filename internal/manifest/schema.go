package manifest

// schemaFilename names the embedded schema in CUE positions.
const schemaFilename = "passvault/schema.cue"

// schemaSource constrains the deployment manifest. Definitions are closed,
// so unknown fields are rejected with their source position.
const schemaSource = `
#Address: =~"^(0x)?[0-9a-fA-F]{64}$"

#Funding: {
	account: #Address
	amount:  int & >0
}

#Deployment: {
	authority:       #Address
	default_policy:  string | *"default"
	whitelist:       [...string] | *[]
	commit_ttl:      int & >0 | *300
	max_message_age: int & >0 | *300
	fees: {
		create_wallet: int & >=0 | *0
		execute:       int & >=0 | *0
	}
	funding: [...#Funding] | *[]
}

deployment: #Deployment
`
